// ABOUTME: Tests for the redaction gate
// ABOUTME: Covers detection classes, token stability, hints, and idempotence

package redact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedact_Email(t *testing.T) {
	redacted, tokens, err := Redact("contact me at jane.doe@example.com please")
	require.NoError(t, err)

	assert.Equal(t, "contact me at [REDACTED:EMAIL_1] please", redacted)
	assert.Equal(t, "jane.doe@example.com", tokens["[REDACTED:EMAIL_1]"])
}

func TestRedact_CardWithHint(t *testing.T) {
	redacted, tokens, err := Redact("my card is 4111 1111 1111 1111")
	require.NoError(t, err)

	assert.Equal(t, "my card is [REDACTED:CARD_1:1111]", redacted)
	assert.Equal(t, "4111 1111 1111 1111", tokens["[REDACTED:CARD_1:1111]"])
}

func TestRedact_CardFailingLuhnNotRedacted(t *testing.T) {
	// Same shape as a card but the checksum is wrong; the bank-account
	// detector picks up whatever bare digit runs remain.
	redacted, _, err := Redact("ref 4111-1111-1111-1112")
	require.NoError(t, err)

	assert.NotContains(t, redacted, "[REDACTED:CARD")
}

func TestRedact_SameLiteralSameToken(t *testing.T) {
	redacted, tokens, err := Redact("email a@b.com or a@b.com again")
	require.NoError(t, err)

	assert.Equal(t, "email [REDACTED:EMAIL_1] or [REDACTED:EMAIL_1] again", redacted)
	assert.Len(t, tokens, 1)
}

func TestRedact_DistinctLiteralsDistinctTokens(t *testing.T) {
	redacted, tokens, err := Redact("a@b.com and c@d.com")
	require.NoError(t, err)

	assert.Equal(t, "[REDACTED:EMAIL_1] and [REDACTED:EMAIL_2]", redacted)
	assert.Len(t, tokens, 2)
}

func TestRedact_SSN(t *testing.T) {
	redacted, _, err := Redact("ssn 123-45-6789")
	require.NoError(t, err)

	assert.Equal(t, "ssn [REDACTED:SSN_1]", redacted)
}

func TestRedact_InvalidSSNLeftAlone(t *testing.T) {
	// Area 000 and 666 are never issued
	for _, input := range []string{"000-12-3456", "666-12-3456"} {
		redacted, _, err := Redact(input)
		require.NoError(t, err)
		assert.NotContains(t, redacted, "[REDACTED:SSN", "input %q", input)
	}
}

func TestRedact_Phone(t *testing.T) {
	redacted, _, err := Redact("call me at (415) 555-2671")
	require.NoError(t, err)

	assert.Equal(t, "call me at [REDACTED:PHONE_1:2671]", redacted)
}

func TestRedact_BankAccount(t *testing.T) {
	redacted, _, err := Redact("account 123456789012")
	require.NoError(t, err)

	assert.Equal(t, "account [REDACTED:BANK_ACCOUNT_1:9012]", redacted)
}

func TestRedact_IPAndPostal(t *testing.T) {
	redacted, _, err := Redact("from 192.168.1.50 near V6B 4Y8 and 94105")
	require.NoError(t, err)

	assert.Contains(t, redacted, "[REDACTED:IP_1]")
	assert.Contains(t, redacted, "[REDACTED:POSTAL_CODE_1]")
	assert.Contains(t, redacted, "[REDACTED:ZIP_1]")
}

func TestRedact_IBAN(t *testing.T) {
	redacted, _, err := Redact("send to DE89370400440532013000")
	require.NoError(t, err)

	assert.Equal(t, "send to [REDACTED:IBAN_1:3000]", redacted)
}

func TestRedact_NoLeak(t *testing.T) {
	input := "card 4111 1111 1111 1111, ssn 123-45-6789, jane@example.com, (415) 555-2671, ip 10.0.0.1"

	redacted, tokens, err := Redact(input)
	require.NoError(t, err)
	require.NotEmpty(t, tokens)

	for _, literal := range tokens {
		assert.NotContains(t, redacted, literal)
	}
}

func TestRedact_Idempotent(t *testing.T) {
	first, _, err := Redact("mail jane@example.com about card 4111 1111 1111 1111")
	require.NoError(t, err)

	second, tokens, err := Redact(first)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Empty(t, tokens)
}

func TestRedact_CleanTextUnchanged(t *testing.T) {
	input := "how much did I spend on groceries last month?"

	redacted, tokens, err := Redact(input)
	require.NoError(t, err)

	assert.Equal(t, input, redacted)
	assert.Empty(t, tokens)
}

func TestRedact_TokenMapRoundTrip(t *testing.T) {
	input := "reach me at ops@example.net"

	redacted, tokens, err := Redact(input)
	require.NoError(t, err)

	restored := redacted
	for token, literal := range tokens {
		restored = strings.ReplaceAll(restored, token, literal)
	}
	assert.Equal(t, input, restored)
}

func TestValidCard(t *testing.T) {
	assert.True(t, validCard("4111111111111111"))
	assert.False(t, validCard("4111111111111112"))
	assert.False(t, validCard("1234"))
}

func TestValidRouting(t *testing.T) {
	assert.True(t, validRouting("021000021"))
	assert.False(t, validRouting("991000021"))
	assert.False(t, validRouting("0210000"))
}
