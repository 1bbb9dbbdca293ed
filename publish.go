package snsgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// OutboundMessage is a structured message to publish. Exactly one of
// TopicARN and TargetARN selects the destination; Payload must marshal to a
// JSON object.
type OutboundMessage struct {
	Payload   any    `json:"payload"`
	TopicARN  string `json:"topicArn,omitempty"`
	TargetARN string `json:"targetArn,omitempty"`
}

// PublishResult carries the backend metadata of a successful publish.
type PublishResult struct {
	MessageID      string `json:"messageId"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
}

// ValidationErrorKind classifies local publish validation failures.
type ValidationErrorKind int

const (
	// MissingDestination indicates neither TopicARN nor TargetARN is set.
	MissingDestination ValidationErrorKind = iota + 1
	// InvalidMessageBody indicates the payload is not a JSON object.
	InvalidMessageBody
)

func (k ValidationErrorKind) String() string {
	switch k {
	case MissingDestination:
		return "MissingDestination"
	case InvalidMessageBody:
		return "InvalidMessageBody"
	default:
		return fmt.Sprintf("ValidationErrorKind(%d)", int(k))
	}
}

// ValidationError is returned by [Gateway.Publish] before any network call
// when the outbound message is rejected locally. It is never retried.
type ValidationError struct {
	Kind   ValidationErrorKind
	Reason string
}

func (err *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", err.Kind, err.Reason)
}

// Publish validates msg, encodes its payload into the backend's JSON
// envelope and submits it. The payload is sent as a JSON-encoded string with
// the "json" structure marker so the backend treats it as structured data;
// this is a fixed wire convention, not user-configurable. Backend errors
// propagate verbatim, with no local retry.
func (gw *Gateway) Publish(ctx context.Context, msg OutboundMessage) (*PublishResult, error) {
	if msg.TopicARN == "" && msg.TargetARN == "" {
		return nil, &ValidationError{
			Kind:   MissingDestination,
			Reason: "either topicArn or targetArn is required",
		}
	}
	body, err := encodePayload(msg.Payload)
	if err != nil {
		return nil, err
	}
	input := &sns.PublishInput{
		Message:          aws.String(string(body)),
		MessageStructure: aws.String("json"),
	}
	if msg.TopicARN != "" {
		input.TopicArn = aws.String(msg.TopicARN)
	}
	if msg.TargetARN != "" {
		input.TargetArn = aws.String(msg.TargetARN)
	}
	output, err := gw.client.Publish(ctx, input)
	if err != nil {
		return nil, err
	}
	result := &PublishResult{}
	if output.MessageId != nil {
		result.MessageID = *output.MessageId
	}
	if output.SequenceNumber != nil {
		result.SequenceNumber = *output.SequenceNumber
	}
	return result, nil
}

// encodePayload marshals the payload and rejects anything that is not a
// non-null JSON object.
func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return nil, &ValidationError{
			Kind:   InvalidMessageBody,
			Reason: "payload must be a non-null structured object",
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ValidationError{
			Kind:   InvalidMessageBody,
			Reason: fmt.Sprintf("payload is not serializable: %s", err),
		}
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &ValidationError{
			Kind:   InvalidMessageBody,
			Reason: "payload must be a structured object, not a scalar",
		}
	}
	return body, nil
}
