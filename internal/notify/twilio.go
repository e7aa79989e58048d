package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioClient talks to the Twilio REST API with form-encoded POSTs.
// It backs both the sms and call channels.
type TwilioClient struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	client     *http.Client
}

func NewTwilioClient(accountSID, authToken, from string, timeout time.Duration) *TwilioClient {
	return &TwilioClient{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    twilioAPIBase,
		client:     &http.Client{Timeout: timeout},
	}
}

// WithBaseURL points the client at a different API root. Used by tests.
func (t *TwilioClient) WithBaseURL(base string) *TwilioClient {
	t.baseURL = strings.TrimRight(base, "/")
	return t
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Message string `json:"message"`
}

func (t *TwilioClient) post(ctx context.Context, resource string, form url.Values) (string, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/%s.json", t.baseURL, t.accountSID, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create twilio request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.accountSID, t.authToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio %s: %w", resource, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed twilioResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if parsed.Message != "" {
			return "", fmt.Errorf("twilio %s returned status %d: %s", resource, resp.StatusCode, parsed.Message)
		}
		return "", fmt.Errorf("twilio %s returned status %d", resource, resp.StatusCode)
	}
	return parsed.SID, nil
}

// SMSChannel sends text messages through Twilio.
type SMSChannel struct {
	client *TwilioClient
}

func NewSMSChannel(client *TwilioClient) *SMSChannel {
	return &SMSChannel{client: client}
}

func (s *SMSChannel) Name() string { return ChannelSMS }

func (s *SMSChannel) Deliver(ctx context.Context, recipient, message string) (string, error) {
	form := url.Values{}
	form.Set("To", recipient)
	form.Set("From", s.client.from)
	form.Set("Body", message)
	return s.client.post(ctx, "Messages", form)
}

// CallChannel places voice calls through Twilio with inline TwiML so the
// configured script is spoken to the recipient.
type CallChannel struct {
	client *TwilioClient
}

func NewCallChannel(client *TwilioClient) *CallChannel {
	return &CallChannel{client: client}
}

func (c *CallChannel) Name() string { return ChannelCall }

func (c *CallChannel) Deliver(ctx context.Context, recipient, message string) (string, error) {
	form := url.Values{}
	form.Set("To", recipient)
	form.Set("From", c.client.from)
	form.Set("Twiml", sayTwiML(message))
	return c.client.post(ctx, "Calls", form)
}

func sayTwiML(message string) string {
	var escaped bytes.Buffer
	_ = xml.EscapeText(&escaped, []byte(message))
	return fmt.Sprintf(`<Response><Say voice="alice">%s</Say></Response>`, escaped.String())
}
