// Package gmail wraps the Gmail REST API behind the narrow surface the
// dispatcher needs: resolve changed messages, read message fields, send
// threaded replies, and manage the push-notification watch.
package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const account = "me"

// requestsPerSecond keeps well under Gmail's per-user quota even with all
// workers fetching concurrently.
const requestsPerSecond = 5

// Client is an authenticated Gmail API client for a single account.
// Accessor methods fetch fresh state per call and are safe for concurrent
// use; a shared limiter paces all outbound requests.
type Client struct {
	srv     *gmailapi.Service
	limiter *rate.Limiter
}

// NewClient builds a client from an installed-app credentials file and a
// previously saved token. A missing or unreadable token is an error; run
// Authorize first to mint one.
func NewClient(ctx context.Context, credentialsFile, tokenFile string) (*Client, error) {
	conf, err := oauthConfig(credentialsFile)
	if err != nil {
		return nil, err
	}
	tok, err := readToken(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("load gmail token (run onboard first): %w", err)
	}

	srv, err := gmailapi.NewService(ctx, option.WithTokenSource(conf.TokenSource(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &Client{
		srv:     srv,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 2*requestsPerSecond),
	}, nil
}

func oauthConfig(credentialsFile string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read gmail credentials: %w", err)
	}
	conf, err := google.ConfigFromJSON(data,
		gmailapi.GmailReadonlyScope, gmailapi.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("parse gmail credentials: %w", err)
	}
	return conf, nil
}

func readToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return tok, nil
}

// AuthURL returns the consent URL for the out-of-band installed-app flow.
func AuthURL(credentialsFile string) (string, error) {
	conf, err := oauthConfig(credentialsFile)
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL("state-token", oauth2.AccessTypeOffline), nil
}

// Authorize exchanges an auth code for a token and saves it to tokenFile.
func Authorize(ctx context.Context, credentialsFile, tokenFile, code string) error {
	conf, err := oauthConfig(credentialsFile)
	if err != nil {
		return err
	}
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange auth code: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(tokenFile, data, 0600)
}

func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// Address returns the authenticated account's email address.
func (c *Client) Address(ctx context.Context) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	profile, err := c.srv.Users.GetProfile(account).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get profile: %w", err)
	}
	return profile.EmailAddress, nil
}

// History returns the ids of messages added after startCursor, oldest
// first. Cursors that Gmail has already expired yield an empty slice.
func (c *Client) History(ctx context.Context, startCursor string) ([]string, error) {
	start, err := strconv.ParseUint(startCursor, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad history cursor %q: %w", startCursor, err)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.srv.Users.History.List(account).
		StartHistoryId(start).
		HistoryTypes("messageAdded").
		Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			// Cursor expired; caller falls back to the unread query.
			return nil, nil
		}
		return nil, fmt.Errorf("list history: %w", err)
	}

	var ids []string
	seen := make(map[string]struct{})
	for _, h := range resp.History {
		for _, added := range h.MessagesAdded {
			if added.Message == nil {
				continue
			}
			if _, ok := seen[added.Message.Id]; ok {
				continue
			}
			seen[added.Message.Id] = struct{}{}
			ids = append(ids, added.Message.Id)
		}
	}
	return ids, nil
}

// ListUnread returns up to max unread inbox message ids, newest first.
func (c *Client) ListUnread(ctx context.Context, max int64) ([]string, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.srv.Users.Messages.List(account).
		Q("is:unread").
		MaxResults(max).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

func (c *Client) getMessage(ctx context.Context, id string) (*gmailapi.Message, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	msg, err := c.srv.Users.Messages.Get(account, id).
		Format("full").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return msg, nil
}

// Sender returns the bare address from the message's From header.
func (c *Client) Sender(ctx context.Context, id string) (string, error) {
	msg, err := c.getMessage(ctx, id)
	if err != nil {
		return "", err
	}
	return extractAddress(header(msg, "From")), nil
}

// Recipient returns the bare address from the message's To header.
func (c *Client) Recipient(ctx context.Context, id string) (string, error) {
	msg, err := c.getMessage(ctx, id)
	if err != nil {
		return "", err
	}
	return extractAddress(header(msg, "To")), nil
}

// Subject returns the message's Subject header.
func (c *Client) Subject(ctx context.Context, id string) (string, error) {
	msg, err := c.getMessage(ctx, id)
	if err != nil {
		return "", err
	}
	return header(msg, "Subject"), nil
}

// Body returns the message's plain-text body.
func (c *Client) Body(ctx context.Context, id string) (string, error) {
	msg, err := c.getMessage(ctx, id)
	if err != nil {
		return "", err
	}
	return bodyText(msg.Payload), nil
}

// ThreadID returns the message's thread id.
func (c *Client) ThreadID(ctx context.Context, id string) (string, error) {
	msg, err := c.getMessage(ctx, id)
	if err != nil {
		return "", err
	}
	return msg.ThreadId, nil
}

// ReceivedAt returns the message's internal receipt time.
func (c *Client) ReceivedAt(ctx context.Context, id string) (time.Time, error) {
	msg, err := c.getMessage(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(msg.InternalDate), nil
}

// SendReply sends a plain-text reply into an existing thread and returns
// the sent message's id. The subject gets a Re: prefix unless it already
// carries one.
func (c *Client) SendReply(ctx context.Context, threadID, to, subject, body string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	msg := &gmailapi.Message{
		Raw:      encodeMessage(to, replySubject(subject), body),
		ThreadId: threadID,
	}
	sent, err := c.srv.Users.Messages.Send(account, msg).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("send reply: %w", err)
	}
	return sent.Id, nil
}

// Send sends a standalone plain-text message and returns its id.
func (c *Client) Send(ctx context.Context, to, subject, body string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	sent, err := c.srv.Users.Messages.Send(account, &gmailapi.Message{
		Raw: encodeMessage(to, subject, body),
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return sent.Id, nil
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}

// Watch registers the inbox for push notifications to a Pub/Sub topic and
// returns the watch's starting history id and expiration.
func (c *Client) Watch(ctx context.Context, topicName string) (historyID uint64, expiration time.Time, err error) {
	if err := c.wait(ctx); err != nil {
		return 0, time.Time{}, err
	}
	resp, err := c.srv.Users.Watch(account, &gmailapi.WatchRequest{
		TopicName:           topicName,
		LabelIds:            []string{"INBOX"},
		LabelFilterBehavior: "INCLUDE",
	}).Context(ctx).Do()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("register watch: %w", err)
	}
	return resp.HistoryId, time.UnixMilli(resp.Expiration), nil
}

// StopWatch tears down the push-notification watch.
func (c *Client) StopWatch(ctx context.Context) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if err := c.srv.Users.Stop(account).Context(ctx).Do(); err != nil {
		return fmt.Errorf("stop watch: %w", err)
	}
	return nil
}

// IsTransient reports whether an API error is worth retrying: rate
// limits, server errors, and network-level failures.
func (c *Client) IsTransient(err error) bool {
	return IsTransient(err)
}

// IsTransient classifies Gmail and network errors for the retry policy.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests:
			return true
		case gerr.Code == http.StatusRequestTimeout:
			return true
		case gerr.Code >= 500:
			return true
		}
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	return false
}
