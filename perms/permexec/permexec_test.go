package permexec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"ghostjail/perms/prompt"
	"ghostjail/perms/request"
)

func TestBuildHashIsStableForSameInput(t *testing.T) {
	h1, err := BuildHash(strings.NewReader("binary-contents"), []string{"/bin/ls", "-la"})
	require.NoError(t, err)
	h2, err := BuildHash(strings.NewReader("binary-contents"), []string{"/bin/ls", "-la"})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestBuildHashDiffersByArgv(t *testing.T) {
	h1, err := BuildHash(strings.NewReader("binary-contents"), []string{"/bin/ls", "-la"})
	require.NoError(t, err)
	h2, err := BuildHash(strings.NewReader("binary-contents"), []string{"/bin/ls", "-l"})
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestBuildHashTooManyArgs(t *testing.T) {
	argv := make([]string, MaxArgs+1)
	_, err := BuildHash(strings.NewReader("x"), argv)
	require.Error(t, err)
}

func TestTryGetMissIsSilent(t *testing.T) {
	d := NewDomain()
	_, ok := d.TryGet([32]byte{1, 2, 3})
	require.False(t, ok)
}

func TestAddDoesNotDeduplicate(t *testing.T) {
	d := NewDomain()
	hash := [32]byte{9}
	d.Add(Entry{Mode: Accept, Hash: hash})
	d.Add(Entry{Mode: Reject, Hash: hash})
	require.Len(t, d.Entries(), 2)

	got, ok := d.TryGet(hash)
	require.True(t, ok)
	require.Equal(t, Accept, got.Mode, "first matching entry wins")
}

func TestGateDefaultModeIsReject(t *testing.T) {
	d := NewDomain()
	_, err := Gate(d, prompt.AutoAccept{}, "thread-1", "/bin/true", strings.NewReader("x"), []string{"/bin/true"}, nil)
	require.Error(t, err)
}

func TestGateAcceptsStoredAcceptEntry(t *testing.T) {
	d := NewDomain()
	hash, err := BuildHash(strings.NewReader("x"), []string{"/bin/true"})
	require.NoError(t, err)
	d.Add(Entry{Mode: Accept, Hash: hash})

	env, err := Gate(d, prompt.AutoReject{}, "thread-1", "/bin/true", strings.NewReader("x"), []string{"/bin/true"}, nil)
	require.NoError(t, err)
	require.Empty(t, env)
}

func TestGatePromptsAndRemembers(t *testing.T) {
	d := NewDomain()
	d.DefaultMode = Prompt
	env, err := Gate(d, prompt.Func(func(request.Request) (request.Response, error) {
		return request.AcceptAndRemember, nil
	}), "thread-1", "/bin/true", strings.NewReader("x"), []string{"/bin/true"}, nil)
	require.NoError(t, err)
	require.Empty(t, env)

	hash, err := BuildHash(strings.NewReader("x"), []string{"/bin/true"})
	require.NoError(t, err)
	got, ok := d.TryGet(hash)
	require.True(t, ok)
	require.Equal(t, Accept, got.Mode)
}

func TestGateFiltersEnvToAllowList(t *testing.T) {
	d := NewDomain()
	d.DefaultMode = Prompt
	d.AllowedEnv = []string{"PATH"}

	var captured request.Request
	capturing := prompt.Func(func(req request.Request) (request.Response, error) {
		captured = req
		return request.AcceptOnce, nil
	})

	env, err := Gate(d, capturing, "thread-1", "/bin/true", strings.NewReader("x"),
		[]string{"/bin/true"}, []string{"PATH=/usr/bin", "SECRET=hunter2"})
	require.NoError(t, err)
	require.Equal(t, []string{"PATH=/usr/bin"}, env)

	envField, ok := captured.Field("env")
	require.True(t, ok)
	require.Contains(t, envField, "/usr/bin")
	require.NotContains(t, envField, "hunter2")
}

func TestGateRejectAndRememberPersistsRejection(t *testing.T) {
	d := NewDomain()
	d.DefaultMode = Prompt
	_, err := Gate(d, prompt.Func(func(request.Request) (request.Response, error) {
		return request.RejectAndRemember, nil
	}), "thread-1", "/bin/true", strings.NewReader("x"), []string{"/bin/true"}, nil)
	require.Error(t, err)

	hash, err := BuildHash(strings.NewReader("x"), []string{"/bin/true"})
	require.NoError(t, err)
	got, ok := d.TryGet(hash)
	require.True(t, ok)
	require.Equal(t, Reject, got.Mode)
}
