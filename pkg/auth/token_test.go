package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueToken(t *testing.T) {
	issued, err := IssueToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(issued.Plaintext, TokenPrefix))
	assert.Len(t, issued.Plaintext, len(TokenPrefix)+secretLength+checksumLength)
	assert.Len(t, issued.Hash, 64)
	assert.Equal(t, HashToken(issued.Plaintext), issued.Hash)
	assert.Equal(t, issued.Plaintext[:len(TokenPrefix)+displayLength], issued.Prefix)
	assert.NoError(t, CheckTokenFormat(issued.Plaintext))
}

func TestIssueTokenUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		issued, err := IssueToken()
		require.NoError(t, err)
		require.False(t, seen[issued.Hash], "duplicate token after %d issues", i)
		seen[issued.Hash] = true
	}
}

func TestHashToken(t *testing.T) {
	assert.Equal(t, HashToken("sellhub_abc"), HashToken("sellhub_abc"))
	assert.NotEqual(t, HashToken("sellhub_abc"), HashToken("sellhub_abd"))
}

func TestCheckTokenFormat(t *testing.T) {
	issued, err := IssueToken()
	require.NoError(t, err)
	valid := issued.Plaintext

	// flip one character of the secret so the checksum no longer matches
	body := []byte(valid)
	i := len(TokenPrefix) + 3
	if body[i] == 'A' {
		body[i] = 'B'
	} else {
		body[i] = 'A'
	}

	tests := []struct {
		name    string
		token   string
		wantErr string
	}{
		{"valid", valid, ""},
		{"wrong prefix", "ghp_" + strings.TrimPrefix(valid, TokenPrefix), "must start with"},
		{"truncated", valid[:len(valid)-1], "length"},
		{"prefix only", TokenPrefix, "length"},
		{"typo", string(body), "checksum"},
		{"bad encoding", TokenPrefix + strings.Repeat("!", secretLength+checksumLength), "encoding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTokenFormat(tt.token)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDisplayPrefix(t *testing.T) {
	assert.Equal(t, "sellhub_abcdefgh", DisplayPrefix("sellhub_abcdefghijklmnop"))
	assert.Equal(t, "sellhub_abc", DisplayPrefix("sellhub_abc"))
	assert.Empty(t, DisplayPrefix("ghp_abcdefghijkl"))
}
