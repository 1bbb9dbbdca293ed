// Package snsgw is a pub/sub notification gateway for Amazon SNS.
//
// It manages topics and subscriptions, publishes structured JSON messages,
// and serves a webhook endpoint that classifies inbound SNS payloads,
// confirms pending subscriptions, and forwards notifications downstream.
package snsgw
