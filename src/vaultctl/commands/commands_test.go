package commands

import (
	"bytes"
	"go/format"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestPreviewEmptyVault(t *testing.T) {
	out, err := run(t, "preview", "deposit", "100", "--decimals", "0")
	require.NoError(t, err)
	assert.Equal(t, "deposit 100: 100 shares\n", out)

	out, err = run(t, "preview", "deposit", "1.5", "--decimals", "6", "--offset", "3")
	require.NoError(t, err)
	assert.Equal(t, "deposit 1.5: 1.5 shares\n", out)
}

func TestPreviewRounding(t *testing.T) {
	state := []string{"--decimals", "0", "--total-assets", "10", "--total-supply", "3"}
	cases := map[string]string{
		"deposit":  "deposit 5: 1 shares\n",
		"withdraw": "withdraw 5: 2 shares\n",
		"mint":     "mint 5: 14 assets\n",
		"redeem":   "redeem 5: 13 assets\n",
	}
	for kind, expected := range cases {
		out, err := run(t, append([]string{"preview", kind, "5"}, state...)...)
		require.NoError(t, err, kind)
		assert.Equal(t, expected, out, kind)
	}
}

func TestPreviewRejectsBadInput(t *testing.T) {
	_, err := run(t, "preview", "transfer", "1")
	assert.Error(t, err)
	_, err = run(t, "preview", "deposit", "-1")
	assert.Error(t, err)
	_, err = run(t, "preview", "deposit", "1.5", "--decimals", "0")
	assert.Error(t, err)
	_, err = run(t, "preview", "deposit")
	assert.Error(t, err)
}

func TestNetworks(t *testing.T) {
	t.Setenv("VAULTCTL_TEST_KEY", "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	path := filepath.Join(t.TempDir(), "networks.json")
	content := `{
  "DefaultNetwork": "localhost",
  "Networks": [
    {"Name": "localhost", "ChainId": 31337, "Url": "http://127.0.0.1:8545", "PrivateKeys": ["${VAULTCTL_TEST_KEY}"]},
    {"Name": "sepolia", "ChainId": 11155111, "Url": "https://sepolia.example.org", "PrivateKeys": ["${VAULTCTL_UNSET_KEY}"]}
  ]
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	out, err := run(t, "networks", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "* localhost")
	assert.Contains(t, out, "  sepolia")
	assert.Contains(t, out, "signer 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	assert.NotContains(t, out, "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
}

func TestSourcesAreFormatted(t *testing.T) {
	files, err := filepath.Glob("*.go")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		src, err := os.ReadFile(f)
		require.NoError(t, err)
		formatted, err := format.Source(src)
		require.NoError(t, err, f)
		assert.Equal(t, string(formatted), string(src), f)
	}
}
