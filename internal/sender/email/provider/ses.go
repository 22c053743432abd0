package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
)

// SESConfig holds the configuration for creating an SES transport.
type SESConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES delivers email through AWS SES v2.
type SES struct {
	client SendEmailAPI
}

// NewSES creates an SES transport. Static credentials are used when both keys
// are set; otherwise the default AWS credential chain applies (instance role, env).
func NewSES(ctx context.Context, cfg SESConfig) (*SES, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SES{client: sesv2.NewFromConfig(awsCfg)}, nil
}

// NewSESWithClient creates an SES transport with a custom client, used for testing.
func NewSESWithClient(client SendEmailAPI) *SES {
	return &SES{client: client}
}

// Name returns the transport name.
func (p *SES) Name() string {
	return "ses"
}

// Send delivers msg via SES.
func (p *SES) Send(ctx context.Context, msg *Message) (string, error) {
	if len(msg.To) == 0 {
		return "", &Error{Name: NameValidation, Message: "no recipients specified"}
	}

	out, err := p.client.SendEmail(ctx, buildSESInput(msg))
	if err != nil {
		return "", classifySESError(err)
	}
	return aws.ToString(out.MessageId), nil
}

func buildSESInput(msg *Message) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.Cc,
			BccAddresses: msg.Bcc,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	for _, tag := range msg.Tags {
		input.EmailTags = append(input.EmailTags, types.MessageTag{
			Name:  aws.String(tag.Name),
			Value: aws.String(tag.Value),
		})
	}
	return input
}

// classifySESError maps SES API error codes onto the shared provider error
// names. Errors without an API code are returned unchanged.
func classifySESError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	name := ""
	switch apiErr.ErrorCode() {
	case "TooManyRequestsException", "LimitExceededException", "Throttling", "ThrottlingException":
		name = NameRateLimit
	case "MessageRejected", "BadRequestException", "InvalidParameterValue":
		name = NameValidation
	case "MailFromDomainNotVerifiedException", "NotFoundException":
		name = NameUnverifiedSender
	case "ServiceUnavailable":
		name = NameUnavailable
	case "UnrecognizedClientException", "InvalidClientTokenId", "SignatureDoesNotMatch", "AccessDeniedException":
		name = NameInvalidAPIKey
	case "InternalFailure", "InternalServerError":
		name = NameInternal
	default:
		if apiErr.ErrorFault() == smithy.FaultServer {
			name = NameInternal
		} else {
			name = NameApplication
		}
	}

	return &Error{Name: name, Message: apiErr.ErrorMessage()}
}
