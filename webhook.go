package snsgw

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Payload type discriminants. The backend delivers both handshakes and
// content notifications to the same endpoint, so classification is always
// discriminant-first, field-extraction-second.
const (
	PayloadTypeSubscriptionConfirmation = "SubscriptionConfirmation"
	PayloadTypeNotification             = "Notification"
)

// WebhookPayload is the parsed inbound webhook body. Which fields are
// populated depends on Type; the signature fields are carried through
// unverified for callers that validate authenticity out-of-band.
type WebhookPayload struct {
	Type             string `json:"Type"`
	MessageID        string `json:"MessageId,omitempty"`
	Token            string `json:"Token,omitempty"`
	TopicARN         string `json:"TopicArn,omitempty"`
	Subject          string `json:"Subject,omitempty"`
	Message          string `json:"Message,omitempty"`
	Timestamp        string `json:"Timestamp,omitempty"`
	SignatureVersion string `json:"SignatureVersion,omitempty"`
	Signature        string `json:"Signature,omitempty"`
	SigningCertURL   string `json:"SigningCertURL,omitempty"`
	SubscribeURL     string `json:"SubscribeURL,omitempty"`
	UnsubscribeURL   string `json:"UnsubscribeURL,omitempty"`
}

// WebhookResult is the tagged outcome of a dispatched webhook. Kind is one
// of the payload type discriminants. For a confirmed subscription,
// SubscriptionARN carries the backend's response.
type WebhookResult struct {
	Kind            string          `json:"kind"`
	Payload         *WebhookPayload `json:"payload"`
	SubscriptionARN string          `json:"subscriptionArn,omitempty"`
}

// PayloadParseError indicates the accumulated body bytes did not parse as
// structured data. No handler is invoked and no backend call is made.
type PayloadParseError struct {
	err error
}

func (e *PayloadParseError) Error() string {
	return fmt.Sprintf("webhook payload is not valid JSON: %s", e.err)
}

func (e *PayloadParseError) Unwrap() error {
	return e.err
}

// UnrecognizedPayloadType indicates a parsed payload whose Type discriminant
// is missing or unknown. No handler is invoked and no backend call is made.
type UnrecognizedPayloadType struct {
	Type string
}

func (e *UnrecognizedPayloadType) Error() string {
	if e.Type == "" {
		return "webhook payload has no Type field"
	}
	return fmt.Sprintf("unrecognized webhook payload type `%s`", e.Type)
}

// DispatchWebhook consumes one inbound webhook body and classifies it.
//
// The body is accumulated fully, in arrival order, before parsing; partial
// parsing is never attempted. A SubscriptionConfirmation payload triggers
// exactly one confirm-subscription backend call with its Token and TopicArn.
// A Notification payload completes immediately with the parsed payload and
// zero backend calls; handling the content is the caller's job.
//
// Exactly one result or error is returned per call. DispatchWebhook writes
// no HTTP response; acknowledgment belongs to the transport layer.
func (gw *Gateway) DispatchWebhook(ctx context.Context, body io.Reader) (*WebhookResult, error) {
	bs, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read webhook body: %w", err)
	}
	var payload WebhookPayload
	if err := json.Unmarshal(bs, &payload); err != nil {
		return nil, &PayloadParseError{err: err}
	}
	switch payload.Type {
	case PayloadTypeSubscriptionConfirmation:
		return gw.confirmSubscription(ctx, &payload)
	case PayloadTypeNotification:
		return &WebhookResult{
			Kind:    PayloadTypeNotification,
			Payload: &payload,
		}, nil
	default:
		return nil, &UnrecognizedPayloadType{Type: payload.Type}
	}
}

func (gw *Gateway) confirmSubscription(ctx context.Context, payload *WebhookPayload) (*WebhookResult, error) {
	output, err := gw.client.ConfirmSubscription(ctx, &sns.ConfirmSubscriptionInput{
		Token:    aws.String(payload.Token),
		TopicArn: aws.String(payload.TopicARN),
	})
	if err != nil {
		return nil, err
	}
	result := &WebhookResult{
		Kind:    PayloadTypeSubscriptionConfirmation,
		Payload: payload,
	}
	if output.SubscriptionArn != nil {
		result.SubscriptionARN = *output.SubscriptionArn
	}
	return result, nil
}
