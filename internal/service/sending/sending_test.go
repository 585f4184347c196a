package sending

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/audience-crm/internal/domain"
)

func TestSimulatedIsDeterministicForSeed(t *testing.T) {
	a := NewSimulated(0.5, 42)
	b := NewSimulated(0.5, 42)
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Send(context.Background(), Recipient{}, "m").Status,
			b.Send(context.Background(), Recipient{}, "m").Status)
	}
}

func TestSimulatedExtremes(t *testing.T) {
	always := NewSimulated(1, 7)
	never := NewSimulated(0, 7)
	for i := 0; i < 20; i++ {
		out := always.Send(context.Background(), Recipient{}, "m")
		assert.Equal(t, domain.DeliverySent, out.Status)
		assert.NotEmpty(t, out.MessageID)

		out = never.Send(context.Background(), Recipient{}, "m")
		assert.Equal(t, domain.DeliveryFailed, out.Status)
		assert.ErrorIs(t, out.Err, ErrSimulatedFailure)
	}
}

func TestSimulatedRateIsRoughlyHonoured(t *testing.T) {
	v := NewSimulated(0.8, 1)
	sent := 0
	for i := 0; i < 2000; i++ {
		if v.Send(context.Background(), Recipient{}, "m").Status == domain.DeliverySent {
			sent++
		}
	}
	assert.InDelta(t, 1600, sent, 100)
}

func TestSimulatedCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := NewSimulated(1, 1).Send(ctx, Recipient{}, "m")
	assert.Equal(t, domain.DeliveryFailed, out.Status)
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-123")}, nil
}

func TestSESVendorSend(t *testing.T) {
	fake := &fakeSES{}
	v := NewSESVendorWithClient(fake, SESOptions{FromEmail: "crm@example.com", FromName: "CRM"})

	out := v.Send(context.Background(), Recipient{CustomerID: "c1", Email: "ana@example.com"}, "Hello Ana")
	assert.Equal(t, domain.DeliverySent, out.Status)
	assert.Equal(t, "ses-123", out.MessageID)

	require.NotNil(t, fake.input)
	assert.Equal(t, "CRM <crm@example.com>", *fake.input.FromEmailAddress)
	assert.Equal(t, []string{"ana@example.com"}, fake.input.Destination.ToAddresses)
	assert.Equal(t, "Hello Ana", *fake.input.Content.Simple.Body.Text.Data)
}

func TestSESVendorFailures(t *testing.T) {
	v := NewSESVendorWithClient(&fakeSES{err: errors.New("throttled")}, SESOptions{FromEmail: "crm@example.com"})

	out := v.Send(context.Background(), Recipient{Email: "a@b.co"}, "m")
	assert.Equal(t, domain.DeliveryFailed, out.Status)

	out = v.Send(context.Background(), Recipient{}, "m")
	assert.ErrorIs(t, out.Err, ErrNoEmail)
}

func TestPersonalizerRender(t *testing.T) {
	p := NewPersonalizer()
	last := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	c := &domain.Customer{ID: "c1", FirstName: "Ana", LastName: "Lima", TotalSpent: 42.5, LastOrder: &last}

	out, err := p.Render("Hi {{ first_name }}, you spent {{ total_spent | currency }} (last order {{ last_order }})", c)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana, you spent $42.50 (last order 2024-05-06)", out)

	out, err = p.Render(`Hi {{ preferred_category | default: "friend" }}`, c)
	require.NoError(t, err)
	assert.Equal(t, "Hi friend", out)
}

func TestPersonalizerPlainTextUnchanged(t *testing.T) {
	out, err := NewPersonalizer().Render("20% off everything!", &domain.Customer{})
	require.NoError(t, err)
	assert.Equal(t, "20% off everything!", out)
}

func TestPersonalizerFallsBackOnError(t *testing.T) {
	msg := "Hi {{ first_name "
	out, err := NewPersonalizer().Render(msg, &domain.Customer{FirstName: "Ana"})
	assert.Error(t, err)
	assert.Equal(t, msg, out)
}

func TestRecipientFromCustomer(t *testing.T) {
	r := RecipientFromCustomer(&domain.Customer{ID: "c1", FirstName: "Ana", LastName: "Lima", Email: "a@b.co", PreferredChannel: "SMS"})
	assert.Equal(t, Recipient{CustomerID: "c1", Name: "Ana Lima", Email: "a@b.co", Channel: "SMS"}, r)
}

func TestPersonalizerCacheIsBounded(t *testing.T) {
	p := NewPersonalizer()
	c := &domain.Customer{FirstName: "Ana"}
	for i := 0; i < 3*maxCachedTemplates; i++ {
		out, err := p.Render(fmt.Sprintf("Hi {{ first_name }} #%d", i), c)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("Hi Ana #%d", i), out)
		assert.LessOrEqual(t, len(p.cache), maxCachedTemplates)
	}

	_, err := p.Render("Hi {{ first_name }} #0", c)
	require.NoError(t, err)
	assert.Contains(t, p.cache, "Hi {{ first_name }} #0")
}
