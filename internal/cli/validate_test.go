package cli

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestValidateCommandValidFile(t *testing.T) {
	out, err := execute(t, "validate", "testdata/rules.yaml")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "validate_valid", []byte(out))
}

func TestValidateCommandReportsEveryIssue(t *testing.T) {
	out, err := execute(t, "validate", "testdata/invalid_rules.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	newGoldie(t).Assert(t, "validate_invalid", []byte(out))
}

func TestValidateCommandMissingFile(t *testing.T) {
	out, err := execute(t, "validate", "testdata/nope.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "✗")
}

func TestValidateCommandRejectsUnknownFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "validate", "testdata/rules.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestValidateFlagsSecondBaseProgram(t *testing.T) {
	file, err := LoadRules("testdata/rules.yaml")
	require.NoError(t, err)
	file.Programs[1].Type = "BASE"
	file.Programs[1].EarningDomains = nil

	res := Validate(file)
	require.False(t, res.Valid)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, Issue{Path: "programs[1]", ID: "prog-promo", Field: "type", Message: "only one BASE program may be active"}, res.Issues[0])
}

func TestLoadRulesFillsTenant(t *testing.T) {
	file, err := LoadRules("testdata/rules.yaml")
	require.NoError(t, err)
	require.Len(t, file.Programs, 2)
	require.Len(t, file.Rules, 2)
	for _, p := range file.Programs {
		assert.Equal(t, "t-1", p.TenantID)
	}
	for _, r := range file.Rules {
		assert.Equal(t, "t-1", r.TenantID)
	}
	assert.NotNil(t, file.Rules[1].Eligibility.MinAmount)
	assert.Equal(t, "100", file.Rules[1].Eligibility.MinAmount.String())
}
