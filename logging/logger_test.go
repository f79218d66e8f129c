package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"strconv"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"ghostjail/result"
)

// setup points the package logger at a buffer for one test and restores
// the host default afterwards.
func setup(t *testing.T, tier Tier, cfg Config) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	cfg.Output = &buf
	Setup(tier, cfg)
	t.Cleanup(func() { Setup(TierHost, Config{}) })
	return &buf
}

func TestEveryRecordCarriesTierAndPID(t *testing.T) {
	buf := setup(t, TierJail, Config{})

	Default().Info("lockdown applied")

	out := buf.String()
	require.Contains(t, out, "proc=jail")
	require.Contains(t, out, "pid="+strconv.Itoa(os.Getpid()))
	require.Contains(t, out, "lockdown applied")
}

func TestLevelTextParsing(t *testing.T) {
	buf := setup(t, TierHost, Config{Level: "warn"})

	Default().Info("dropped")
	Default().Warn("kept")

	require.NotContains(t, buf.String(), "dropped")
	require.Contains(t, buf.String(), "kept")
}

func TestUnparseableLevelMeansInfo(t *testing.T) {
	buf := setup(t, TierHost, Config{Level: "chatty"})

	Default().Debug("dropped")
	Default().Info("kept")

	require.NotContains(t, buf.String(), "dropped")
	require.Contains(t, buf.String(), "kept")
}

func TestJSONFormat(t *testing.T) {
	buf := setup(t, TierSubjail, Config{Format: "json"})

	Default().Info("hello", "k", "v")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "subjail", rec["proc"])
	require.Equal(t, "v", rec["k"])
}

func TestSandboxAndThreadScoping(t *testing.T) {
	buf := setup(t, TierHost, Config{})

	Sandbox(4242).Debug("suppressed at info")
	Sandbox(4242).Info("jail up")
	Thread("scripts/job.gh").Info("subjail alive")

	out := buf.String()
	require.Contains(t, out, "jail_pid=4242")
	require.Contains(t, out, "safe_id=scripts/job.gh")
	require.NotContains(t, out, "suppressed at info")
}

func TestScriptScopingComposes(t *testing.T) {
	buf := setup(t, TierHost, Config{})

	Script(Thread("w1"), "a-b-c").Info("script started")

	out := buf.String()
	require.Contains(t, out, "safe_id=w1")
	require.Contains(t, out, "script_id=a-b-c")
}

func TestWireResultSplitsPayloadByContext(t *testing.T) {
	buf := setup(t, TierHost, Config{Format: "json"})

	Default().Info("exit", WireResult(result.WithExitCode(7)))
	Default().Info("signal", WireResult(result.WithSignal(9)))
	Default().Info("errno", WireResult(result.WithErrno(result.ContextIPCSendMsgFail, syscall.EPIPE)))

	dec := json.NewDecoder(bytes.NewReader(buf.Bytes()))

	var exit map[string]any
	require.NoError(t, dec.Decode(&exit))
	res := exit["result"].(map[string]any)
	require.Equal(t, float64(7), res["exit_code"])

	var sig map[string]any
	require.NoError(t, dec.Decode(&sig))
	res = sig["result"].(map[string]any)
	require.Equal(t, float64(9), res["signal"])

	var eno map[string]any
	require.NoError(t, dec.Decode(&eno))
	res = eno["result"].(map[string]any)
	require.Equal(t, "ipc sendmsg failed", res["context"])
	require.Contains(t, res["errno"], "broken pipe")
}

func TestWireResultOKCarriesOnlyContext(t *testing.T) {
	buf := setup(t, TierHost, Config{Format: "json"})

	Default().Info("ok", WireResult(result.Ok))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	res := rec["result"].(map[string]any)
	require.Equal(t, "ok", res["context"])
	require.NotContains(t, res, "exit_code")
	require.NotContains(t, res, "errno")
}
