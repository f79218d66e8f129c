package permfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActModeRejectWins(t *testing.T) {
	modeset := ModeSet{Reject: Write, Accept: Write}
	result := ActMode(modeset, Write)
	require.False(t, result.Allowed)
	require.Equal(t, Write, result.RejectedBits)
}

func TestActModeFullyAccepted(t *testing.T) {
	modeset := ModeSet{Accept: Read | Write}
	result := ActMode(modeset, Read)
	require.True(t, result.Allowed)
	require.Zero(t, result.RejectedBits)
	require.Zero(t, result.PromptBits)
}

func TestActModePartialAcceptPromptsRemainder(t *testing.T) {
	modeset := ModeSet{Accept: Read}
	result := ActMode(modeset, Read|Write)
	require.False(t, result.Allowed)
	require.Zero(t, result.RejectedBits)
	require.Equal(t, Write, result.PromptBits)
	require.True(t, result.NeedsPrompt())
}

func TestActModeDefaultPolicyIsPrompt(t *testing.T) {
	// No reject, no accept, no explicit prompt bit set: remaining bits
	// still come back prompt-worthy.
	result := ActMode(ModeSet{}, CreateFile)
	require.False(t, result.Allowed)
	require.Zero(t, result.RejectedBits)
	require.Equal(t, CreateFile, result.PromptBits)
}

func TestAddCreatesEntryWithIndependentSelfAndChildren(t *testing.T) {
	d := NewDomain()
	e := d.Add("/tmp", ModeSet{Accept: Read}, ModeSet{Accept: Write})
	require.Equal(t, Read, e.Self.Accept)
	require.Equal(t, Write, e.Children.Accept)
}

func TestAddMergingIntoExistingEntryFoldsBothIntoSelf(t *testing.T) {
	// Preserved quirk (DESIGN.md): a second Add for the same path merges
	// both the self and children arguments into entry.Self only; an
	// already-populated Children field is never grown again.
	d := NewDomain()
	first := d.Add("/tmp", ModeSet{Accept: Read}, ModeSet{Accept: CreateDir})
	require.Equal(t, CreateDir, first.Children.Accept)

	second := d.Add("/tmp", ModeSet{Accept: Write}, ModeSet{Accept: Unlink})
	require.Same(t, first, second)
	require.Equal(t, Read|Write|Unlink, second.Self.Accept, "both params fold into Self on merge")
	require.Equal(t, CreateDir, second.Children.Accept, "Children is untouched by the merge path")
}

func TestGetModeExactMatch(t *testing.T) {
	d := NewDomain()
	d.Add("/tmp", ModeSet{Accept: Read, Reject: Write}, ModeSet{Accept: Read})

	self, children := d.GetMode("/tmp")
	require.Equal(t, Read, self.Accept)
	require.Equal(t, Write, self.Reject)
	require.Equal(t, Read, children.Accept)
}

func TestGetModeStrictPrefixMergesChildrenIntoBothFields(t *testing.T) {
	// Preserved quirk (DESIGN.md): for a strict directory-prefix match,
	// self picks up the entry's Children bits, and children is then
	// computed from that same already-updated self rather than a fresh
	// accumulator — so children ends up equal to self's running value,
	// not a sum of each entry's own Children field.
	d := NewDomain()
	d.Add("/tmp", ModeSet{}, ModeSet{Accept: Read, Reject: Write})

	self, children := d.GetMode("/tmp/x")
	require.Equal(t, Read, self.Accept)
	require.Equal(t, Write, self.Reject)
	require.Equal(t, self, children)
}

func TestGetModeDoesNotMatchUnrelatedPaths(t *testing.T) {
	d := NewDomain()
	d.Add("/tmp", ModeSet{Accept: Read}, ModeSet{Accept: Read})

	self, children := d.GetMode("/var/log")
	require.Zero(t, self.Accept)
	require.Zero(t, children.Accept)
}

func TestRoundTripPathEntryScenario(t *testing.T) {
	// Policy grants self accept read+createdir, self reject write,
	// children reject write, children accept read.
	d := NewDomain()
	d.Add("/tmp",
		ModeSet{Accept: Read | CreateDir, Reject: Write},
		ModeSet{Accept: Read, Reject: Write},
	)

	self, _ := d.GetMode("/tmp")
	require.True(t, ActMode(self, Read).Allowed)
	require.Equal(t, Write, ActMode(self, Write).RejectedBits)
	require.True(t, ActMode(self, CreateFile).NeedsPrompt())

	childSelf, _ := d.GetMode("/tmp/x")
	require.Equal(t, Write, ActMode(childSelf, Write).RejectedBits)
	require.True(t, ActMode(childSelf, Read).Allowed)
}

func TestIsStrictPrefix(t *testing.T) {
	require.True(t, isStrictPrefix("/tmp", "/tmp/x"))
	require.True(t, isStrictPrefix("/", "/tmp"))
	require.False(t, isStrictPrefix("/tmp", "/tmp"))
	require.False(t, isStrictPrefix("/tmp", "/tmpfoo"))
	require.False(t, isStrictPrefix("/tmp/x", "/tmp"))
}

func TestFcntlFlagsToModeReadOnly(t *testing.T) {
	require.Equal(t, Read, FcntlFlagsToMode(0, 0))
}

func TestFcntlFlagsToModeCreateSetsAccessBits(t *testing.T) {
	const oWronly = 0x1
	const oCreat = 0x40
	mode := FcntlFlagsToMode(oWronly|oCreat, 0o644)
	require.Equal(t, Write|CreateFile|AccessUserRead|AccessUserWrite|AccessGroupRead|AccessOtherRead, mode)
}
