package sending

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/audience-crm/internal/pkg/logger"
)

// ErrNoEmail is returned for recipients without an email address.
var ErrNoEmail = errors.New("recipient has no email address")

// SESAPI is the subset of the SES v2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESVendor delivers campaign messages as plain-text email through AWS SES.
type SESVendor struct {
	client    SESAPI
	fromEmail string
	fromName  string
	subject   string
}

// SESOptions configures an SES vendor.
type SESOptions struct {
	AccessKey string
	SecretKey string
	Region    string
	FromEmail string
	FromName  string
	// Subject is used for every message; campaigns carry no subject line.
	Subject string
}

// NewSESVendor creates an SES vendor. Static credentials are used when both
// keys are set; otherwise the default AWS chain applies.
func NewSESVendor(ctx context.Context, opts SESOptions) (*SESVendor, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("ses: load AWS config: %w", err)
	}
	return NewSESVendorWithClient(sesv2.NewFromConfig(cfg), opts), nil
}

// NewSESVendorWithClient wraps an existing SES client.
func NewSESVendorWithClient(client SESAPI, opts SESOptions) *SESVendor {
	subject := opts.Subject
	if subject == "" {
		subject = "A message for you"
	}
	return &SESVendor{client: client, fromEmail: opts.FromEmail, fromName: opts.FromName, subject: subject}
}

// Send delivers one message.
func (v *SESVendor) Send(ctx context.Context, to Recipient, message string) Outcome {
	if to.Email == "" {
		return Failed(ErrNoEmail)
	}

	from := v.fromEmail
	if v.fromName != "" {
		from = fmt.Sprintf("%s <%s>", v.fromName, v.fromEmail)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{to.Email}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(v.subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(message), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("customer_id"), Value: aws.String(to.CustomerID)},
		},
	}

	result, err := v.client.SendEmail(ctx, input)
	if err != nil {
		logger.Warn("ses: send failed", "email", to.Email, "error", err)
		return Failed(err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	logger.Debug("ses: sent", "email", logger.RedactEmail(to.Email), "message_id", messageID)
	return Sent(messageID)
}

// Name returns "ses".
func (v *SESVendor) Name() string { return "ses" }
