package snsgw

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Songmu/flextime"
	"github.com/google/uuid"
)

func (gw *Gateway) setupRoute() {
	gw.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, http.StatusOK, http.StatusText(http.StatusOK))
	})
	gw.router.HandleFunc("/", gw.handleWebhook).Methods(http.MethodPost)
}

func (gw *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gw.router.ServeHTTP(w, r)
}

// handleWebhook is the transport edge of the webhook dispatcher. It always
// finalizes the response with 200 so the backend never re-delivers a payload
// the gateway can never handle; classification errors are logged here and
// surfaced only through [Gateway.DispatchWebhook] for programmatic callers.
func (gw *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.InfoContext(ctx, "received webhook request",
		"method", coalesce(r.Method, "-"),
		"uri", coalesce(r.URL.String(), "-"),
		"message_type", coalesce(r.Header.Get("x-amz-sns-message-type"), "-"),
		"message_id", coalesce(r.Header.Get("x-amz-sns-message-id"), "-"),
		"topic_arn", coalesce(r.Header.Get("x-amz-sns-topic-arn"), "-"),
		"forwarded_for", coalesce(r.Header.Get("X-Forwarded-For"), "-"),
	)
	defer r.Body.Close()
	bs, err := io.ReadAll(r.Body)
	if err != nil {
		slog.WarnContext(ctx, "failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, http.StatusText(http.StatusOK))
		return
	}
	result, err := gw.DispatchWebhook(ctx, bytes.NewReader(bs))
	if err != nil {
		var parseErr *PayloadParseError
		var typeErr *UnrecognizedPayloadType
		switch {
		case errors.As(err, &parseErr):
			slog.WarnContext(ctx, "webhook payload parse failed", "error", err)
		case errors.As(err, &typeErr):
			slog.WarnContext(ctx, "webhook payload type unrecognized", "type", coalesce(typeErr.Type, "-"))
		default:
			slog.ErrorContext(ctx, "webhook dispatch failed", "error", err)
		}
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, http.StatusText(http.StatusOK))
		return
	}
	slog.InfoContext(ctx, "webhook dispatched",
		"kind", result.Kind,
		"message_id", coalesce(result.Payload.MessageID, "-"),
		"topic_arn", coalesce(result.Payload.TopicARN, "-"),
		"subscription_arn", coalesce(result.SubscriptionARN, "-"),
	)
	gw.recordDelivery(ctx, result, bs)
	gw.forwardResult(ctx, result)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, http.StatusText(http.StatusOK))
}

func (gw *Gateway) recordDelivery(ctx context.Context, result *WebhookResult, body []byte) {
	if gw.storage == nil {
		return
	}
	item := &DeliveryItem{
		DeliveryID: uuid.NewString(),
		Kind:       result.Kind,
		MessageID:  result.Payload.MessageID,
		TopicARN:   result.Payload.TopicARN,
		Subject:    result.Payload.Subject,
		Payload:    string(body),
		ReceivedAt: flextime.Now(),
	}
	if err := gw.storage.SaveDelivery(ctx, item); err != nil {
		slog.ErrorContext(ctx, "failed to save delivery", "delivery_id", item.DeliveryID, "error", err)
		return
	}
	slog.DebugContext(ctx, "saved delivery", "delivery_id", item.DeliveryID, "kind", item.Kind)
}

func (gw *Gateway) forwardResult(ctx context.Context, result *WebhookResult) {
	if gw.forwarder == nil || result.Kind != PayloadTypeNotification {
		return
	}
	if gw.manifest != nil {
		ok, err := gw.manifest.Match(result)
		if err != nil {
			slog.ErrorContext(ctx, "forward rule evaluation failed", "error", err)
			return
		}
		if !ok {
			slog.DebugContext(ctx, "notification skipped by forward rules",
				"message_id", coalesce(result.Payload.MessageID, "-"),
			)
			return
		}
	}
	if err := gw.forwarder.Forward(ctx, []*WebhookResult{result}); err != nil {
		slog.ErrorContext(ctx, "failed to forward notification", "error", err)
	}
}

func coalesce(strs ...string) string {
	for _, str := range strs {
		if str != "" {
			return str
		}
	}
	return ""
}
