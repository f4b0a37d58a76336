// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sms abstracts outbound SMS delivery for the two-factor flow.
package sms

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Sender delivers a text message. The security core depends only on this
// capability; the concrete carrier is injected at startup.
type Sender interface {
	Send(to, body string) error
}

// phoneRe accepts E.164-ish numbers: optional +, 10 to 15 digits.
var phoneRe = regexp.MustCompile(`^\+?\d{10,15}$`)

// ValidPhoneNumber reports whether a destination number is acceptable.
func ValidPhoneNumber(number string) bool {
	return phoneRe.MatchString(number)
}

// =============================================================================
// TWILIO SENDER
// =============================================================================

// TwilioSender sends messages through the Twilio REST API.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	client     *http.Client
}

// NewTwilioSender creates a sender using the given Twilio credentials.
func NewTwilioSender(accountSID, authToken, from string) *TwilioSender {
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts one message to the Twilio Messages endpoint.
func (t *TwilioSender) Send(to, body string) error {
	if !ValidPhoneNumber(to) {
		return fmt.Errorf("invalid phone number: %s", to)
	}

	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", t.accountSID)
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.from)
	form.Set("Body", body)

	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build SMS request: %w", err)
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send SMS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("SMS delivery failed: carrier returned %s", resp.Status)
	}
	return nil
}

// =============================================================================
// NOP SENDER
// =============================================================================

// NopSender is installed when no carrier credentials are configured. Every
// send fails, which makes the two-factor flow inoperable while leaving all
// other flows untouched.
type NopSender struct{}

// Send always reports that no carrier is configured.
func (NopSender) Send(to, body string) error {
	return fmt.Errorf("no SMS carrier configured")
}
