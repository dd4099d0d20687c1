package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
)

const (
	snsName     = "AWS SNS"
	snsCurrency = "USD"
)

var snsVendorCodes = map[string]domain.ErrorCode{
	"AuthorizationError":    domain.CodeInvalidAPIKey,
	"InvalidClientTokenId":  domain.CodeInvalidAPIKey,
	"SignatureDoesNotMatch": domain.CodeInvalidAPIKey,
	"InvalidParameter":      domain.CodeBadRequest,
	"InvalidParameterValue": domain.CodeBadRequest,
}

// SNSPublisher abstracts the AWS SNS calls the adapter needs.
type SNSPublisher interface {
	Publish(ctx context.Context, phoneNumber, message string, attributes map[string]string) (string, error)
	MonthlySpendLimit(ctx context.Context) (float64, error)
}

// SNSAdapter sends SMS through AWS SNS. SNS has no per-message status API, so
// GetStatus always reports unknown.
type SNSAdapter struct {
	Defaults

	publisher SNSPublisher
	senderID  string
}

func NewSNSAdapter(settings domain.ProviderSettings, publisher SNSPublisher) (*SNSAdapter, error) {
	if publisher == nil {
		return nil, fmt.Errorf("%w: sns publisher is required", domain.ErrProviderNotConfigured)
	}
	return &SNSAdapter{
		Defaults:  newDefaults(snsName, settings, FeatureSend, FeatureBalance, FeatureUnicode, FeatureSenderID),
		publisher: publisher,
		senderID:  strings.TrimSpace(settings.SenderID),
	}, nil
}

func (a *SNSAdapter) Send(ctx context.Context, msg domain.OutboundMessage) domain.SendResult {
	msg, invalid := prepareMessage(msg, a.FormatPhoneNumber)
	if invalid != nil {
		return *invalid
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()

	smsType := "Transactional"
	if msg.Category == domain.CategoryMarketing {
		smsType = "Promotional"
	}
	attrs := map[string]string{"AWS.SNS.SMS.SMSType": smsType}
	sender := a.senderID
	if msg.SenderID != "" {
		sender = msg.SenderID
	}
	if sender != "" {
		attrs["AWS.SNS.SMS.SenderID"] = sender
	}

	messageID, err := a.publisher.Publish(ctx, msg.To, msg.Body, attrs)
	if err != nil {
		return failure(snsProviderError(err), snsVendorCodes)
	}
	if messageID == "" {
		return domain.FailedSend(domain.CodeProviderError, "sns response missing message id")
	}

	estimate := a.cost.Estimate(msg)
	return domain.SendResult{
		Success:   true,
		MessageID: messageID,
		Status:    domain.SendStatusSent,
		Cost:      estimate.Cost,
		Currency:  a.currency(snsCurrency),
		Parts:     estimate.Parts,
	}
}

func (a *SNSAdapter) GetStatus(_ context.Context, messageID string) domain.DeliveryStatus {
	return domain.UnknownDelivery(messageID)
}

// GetBalance reports the account MonthlySpendLimit, the only budget figure SNS exposes.
func (a *SNSAdapter) GetBalance(ctx context.Context) domain.ProviderBalance {
	currency := a.currency(snsCurrency)
	threshold := a.settings.LowBalanceThreshold

	limit, err := a.publisher.MonthlySpendLimit(ctx)
	if err != nil {
		return domain.DegradedBalance(currency, domain.BalanceUnitMoney, threshold)
	}
	return domain.NewProviderBalance(limit, currency, domain.BalanceUnitMoney, threshold)
}

func (a *SNSAdapter) HealthCheck(ctx context.Context) (bool, string) {
	return healthFromBalance(ctx, a.GetBalance)
}

func snsProviderError(err error) error {
	providerErr := &ProviderError{Message: "sns publish failed", Cause: err}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		providerErr.VendorCode = apiErr.ErrorCode()
		providerErr.Transient = apiErr.ErrorFault() == smithy.FaultServer
		return providerErr
	}
	providerErr.Transient = IsTransient(err)
	return providerErr
}

type awsSNSPublisher struct {
	client *sns.Client
}

// NewAWSSNSPublisher builds an SNSPublisher from the default AWS credential chain,
// or from static keys when access_key_id and secret_access_key are provided.
func NewAWSSNSPublisher(ctx context.Context, region string, creds domain.Credentials) (SNSPublisher, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if ak, sk := creds.Get("access_key_id"), creds.Get("secret_access_key"); ak != "" && sk != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, creds.Get("session_token")),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &awsSNSPublisher{client: sns.NewFromConfig(cfg)}, nil
}

func (p *awsSNSPublisher) Publish(ctx context.Context, phoneNumber, message string, attributes map[string]string) (string, error) {
	attrs := make(map[string]snstypes.MessageAttributeValue, len(attributes))
	for k, v := range attributes {
		attrs[k] = snstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phoneNumber),
		Message:           aws.String(message),
		MessageAttributes: attrs,
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}

func (p *awsSNSPublisher) MonthlySpendLimit(ctx context.Context) (float64, error) {
	out, err := p.client.GetSMSAttributes(ctx, &sns.GetSMSAttributesInput{
		Attributes: []string{"MonthlySpendLimit"},
	})
	if err != nil {
		return 0, err
	}
	raw, ok := out.Attributes["MonthlySpendLimit"]
	if !ok {
		return 0, fmt.Errorf("MonthlySpendLimit attribute not set")
	}
	return strconv.ParseFloat(raw, 64)
}
