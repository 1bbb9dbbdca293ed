package snsgw_test

import (
	"testing"

	"github.com/mashiike/snsgw"
	"github.com/stretchr/testify/require"
)

func TestFilterEnv(t *testing.T) {
	env, err := snsgw.NewFilterEnv()
	require.NoError(t, err)

	t.Setenv("SNSGW_TEST_SUBJECT", "order created")

	result := &snsgw.WebhookResult{
		Kind: snsgw.PayloadTypeNotification,
		Payload: &snsgw.WebhookPayload{
			Type:     snsgw.PayloadTypeNotification,
			TopicARN: "arn:aws:sns:us-east-1:123456789012:orders",
			Subject:  "order created",
			Message:  `{"orderId":42}`,
		},
	}

	cases := []struct {
		name     string
		expr     string
		expected bool
	}{
		{
			name:     "simple true",
			expr:     "true",
			expected: true,
		},
		{
			name:     "simple false",
			expr:     "false",
			expected: false,
		},
		{
			name:     "check kind",
			expr:     `kind == "Notification"`,
			expected: true,
		},
		{
			name:     "check subject",
			expr:     `subject == "order created"`,
			expected: true,
		},
		{
			name:     "check topic arn suffix",
			expr:     `topicArn.endsWith(":orders")`,
			expected: true,
		},
		{
			name:     "check payload field",
			expr:     `payload.TopicArn.startsWith("arn:aws:sns:us-east-1:")`,
			expected: true,
		},
		{
			name:     "check result field",
			expr:     `result.kind == "SubscriptionConfirmation"`,
			expected: false,
		},
		{
			name:     "env function",
			expr:     `subject == env("SNSGW_TEST_SUBJECT")`,
			expected: true,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			filter, err := env.Compile(c.expr)
			require.NoError(t, err)
			actual, err := filter.Eval(result)
			require.NoError(t, err)
			require.Equal(t, c.expected, actual)
		})
	}
}

func TestFilterEnvCompileRejectsNonBool(t *testing.T) {
	env, err := snsgw.NewFilterEnv()
	require.NoError(t, err)
	_, err = env.Compile(`1 + 1`)
	require.Error(t, err)
}

func TestFilterEvalNilResult(t *testing.T) {
	env, err := snsgw.NewFilterEnv()
	require.NoError(t, err)
	filter, err := env.Compile(`true`)
	require.NoError(t, err)
	ok, err := filter.Eval(nil)
	require.NoError(t, err)
	require.False(t, ok)
}
