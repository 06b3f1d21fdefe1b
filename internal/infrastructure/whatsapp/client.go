// Package whatsapp is a small client for the WhatsApp Cloud API endpoints the
// service calls: sending text and media messages, uploading media and
// resolving media ids to URLs.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

// ErrNotConfigured is returned when the access token or sender phone number id is missing.
var ErrNotConfigured = errors.New("whatsapp: client not configured")

// APIError is a non-2xx answer from the Graph API.
type APIError struct {
	StatusCode int
	Code       int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp: api status %d (code %d, %s): %s", e.StatusCode, e.Code, e.Type, e.Message)
}

type Options struct {
	BaseURL       string
	APIVersion    string
	PhoneNumberID string
	AccessToken   string
	HTTPClient    *http.Client
}

type Client struct {
	baseURL       string
	apiVersion    string
	phoneNumberID string
	accessToken   string
	httpClient    *http.Client
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://graph.facebook.com"
	}
	apiVersion := strings.Trim(strings.TrimSpace(opts.APIVersion), "/")
	if apiVersion == "" {
		apiVersion = "v20.0"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:       baseURL,
		apiVersion:    apiVersion,
		phoneNumberID: strings.TrimSpace(opts.PhoneNumberID),
		accessToken:   strings.TrimSpace(opts.AccessToken),
		httpClient:    httpClient,
	}
}

type sendTextRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// sender picks the business number a message leaves from. An empty from
// falls back to the configured phone number id.
func (c *Client) sender(from string) (string, error) {
	from = strings.TrimSpace(from)
	if from == "" {
		from = c.phoneNumberID
	}
	if c.accessToken == "" || from == "" {
		return "", ErrNotConfigured
	}
	return from, nil
}

// SendText sends body to the phone number to from the business number from
// and returns the provider message id.
func (c *Client) SendText(ctx context.Context, from, to, body string) (string, error) {
	sender, err := c.sender(from)
	if err != nil {
		return "", err
	}
	return c.send(ctx, sender, sendTextRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: body},
	})
}

// MediaKind is the message type used to send uploaded media.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaSticker  MediaKind = "sticker"
)

// MediaKindFor maps a mime type to the message type the provider expects.
// Anything that is not image, video or audio goes out as a document.
func MediaKindFor(mimeType string) MediaKind {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case mt == "image/webp":
		return MediaSticker
	case strings.HasPrefix(mt, "image/"):
		return MediaImage
	case strings.HasPrefix(mt, "video/"):
		return MediaVideo
	case strings.HasPrefix(mt, "audio/"):
		return MediaAudio
	default:
		return MediaDocument
	}
}

type mediaRef struct {
	ID       string `json:"id"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type sendMediaRequest struct {
	MessagingProduct string    `json:"messaging_product"`
	RecipientType    string    `json:"recipient_type"`
	To               string    `json:"to"`
	Type             MediaKind `json:"type"`
	Image            *mediaRef `json:"image,omitempty"`
	Video            *mediaRef `json:"video,omitempty"`
	Audio            *mediaRef `json:"audio,omitempty"`
	Document         *mediaRef `json:"document,omitempty"`
	Sticker          *mediaRef `json:"sticker,omitempty"`
}

// OutboundMedia describes an uploaded media id to send. Caption is dropped
// for audio and stickers, Filename is only sent with documents.
type OutboundMedia struct {
	Kind     MediaKind
	MediaID  string
	Caption  string
	Filename string
}

// SendMedia sends an uploaded media id and returns the provider message id.
func (c *Client) SendMedia(ctx context.Context, from, to string, m OutboundMedia) (string, error) {
	sender, err := c.sender(from)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(m.MediaID) == "" {
		return "", errors.New("whatsapp: media id is required")
	}
	req := sendMediaRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             m.Kind,
	}
	ref := &mediaRef{ID: m.MediaID, Caption: m.Caption}
	switch m.Kind {
	case MediaImage:
		req.Image = ref
	case MediaVideo:
		req.Video = ref
	case MediaAudio:
		ref.Caption = ""
		req.Audio = ref
	case MediaSticker:
		ref.Caption = ""
		req.Sticker = ref
	case MediaDocument:
		ref.Filename = m.Filename
		req.Document = ref
	default:
		return "", fmt.Errorf("whatsapp: unsupported media kind %q", m.Kind)
	}
	return c.send(ctx, sender, req)
}

func (c *Client) send(ctx context.Context, sender string, req any) (string, error) {
	var resp sendResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint(sender, "messages"), req, &resp); err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return "", errors.New("whatsapp: send response carried no message id")
	}
	return resp.Messages[0].ID, nil
}

// UploadMedia stores data at the provider through POST /{phone-number-id}/media
// and returns the media id to send.
func (c *Client) UploadMedia(ctx context.Context, from, filename, mimeType string, data io.Reader) (string, error) {
	sender, err := c.sender(from)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(mimeType) == "" {
		return "", errors.New("whatsapp: mime type is required")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", err
	}
	if err := mw.WriteField("type", mimeType); err != nil {
		return "", err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, data); err != nil {
		return "", fmt.Errorf("whatsapp: read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doRaw(ctx, http.MethodPost, c.endpoint(sender, "media"), &buf, mw.FormDataContentType(), &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("whatsapp: upload response carried no media id")
	}
	return resp.ID, nil
}

// Media is the resolved location of a media id. URLs are short-lived and
// require the access token to download.
type Media struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
}

// MediaURL resolves mediaID through GET /{version}/{media-id}.
func (c *Client) MediaURL(ctx context.Context, mediaID string) (Media, error) {
	if c.accessToken == "" {
		return Media{}, ErrNotConfigured
	}
	if strings.TrimSpace(mediaID) == "" {
		return Media{}, errors.New("whatsapp: media id is required")
	}
	var m Media
	if err := c.do(ctx, http.MethodGet, c.endpoint(mediaID), nil, &m); err != nil {
		return Media{}, err
	}
	if m.URL == "" {
		return Media{}, fmt.Errorf("whatsapp: media %s has no url", mediaID)
	}
	return m, nil
}

func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, 0, len(parts)+2)
	escaped = append(escaped, c.baseURL, c.apiVersion)
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, endpoint string, in any, out any) error {
	if in == nil {
		return c.doRaw(ctx, method, endpoint, nil, "", out)
	}
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.doRaw(ctx, method, endpoint, bytes.NewReader(b), "application/json", out)
}

func (c *Client) doRaw(ctx context.Context, method, endpoint string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("whatsapp: decode response: %w", err)
	}
	return nil
}

func parseAPIError(status int, body []byte) error {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		apiErr.Type = envelope.Error.Type
		apiErr.Code = envelope.Error.Code
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
