package discord

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jaywantadh/ThreadByte/internal/platform"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func newTestClient(t *testing.T, handler fasthttp.RequestHandler, retries int) *Client {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go srv.Serve(ln) //nolint:errcheck
	t.Cleanup(func() { ln.Close() })

	return New(Config{
		BaseURL:    "http://discord.test/api/v10",
		Token:      "secret",
		Timeout:    5 * time.Second,
		MaxRetries: retries,
		HTTPClient: &fasthttp.Client{
			Dial: func(addr string) (net.Conn, error) { return ln.Dial() },
		},
	})
}

func TestCreateChannel(t *testing.T) {
	var got createThreadRequest
	client := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != "/api/v10/channels/42/threads" || !ctx.IsPost() {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		if string(ctx.Request.Header.Peek("Authorization")) != "Bot secret" {
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			return
		}
		json.Unmarshal(ctx.PostBody(), &got) //nolint:errcheck
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"id":"900","parent_id":"42","name":"report.pdf"}`)
	}, 0)

	ch, err := client.CreateChannel(context.Background(), "42", "report.pdf")
	if err != nil {
		t.Fatalf("CreateChannel failed: %v", err)
	}
	if ch.ID != "900" || ch.ParentID != "42" {
		t.Errorf("unexpected channel %+v", ch)
	}
	if got.Type != publicThreadType || got.AutoArchiveDuration != autoArchiveMinutes || got.Name != "report.pdf" {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestCreateChannelTruncatesName(t *testing.T) {
	var got createThreadRequest
	client := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		json.Unmarshal(ctx.PostBody(), &got) //nolint:errcheck
		ctx.SetBodyString(`{"id":"1"}`)
	}, 0)

	if _, err := client.CreateChannel(context.Background(), "42", strings.Repeat("x", 150)); err != nil {
		t.Fatal(err)
	}
	if len(got.Name) != maxThreadNameLength {
		t.Errorf("expected name truncated to %d, got %d", maxThreadNameLength, len(got.Name))
	}
}

func TestPostMessageMultipart(t *testing.T) {
	var payload messagePayload
	var fileName, fileBody string
	client := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		form, err := ctx.MultipartForm()
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			return
		}
		if v := form.Value["payload_json"]; len(v) == 1 {
			json.Unmarshal([]byte(v[0]), &payload) //nolint:errcheck
		}
		if fh := form.File["files[0]"]; len(fh) == 1 {
			fileName = fh[0].Filename
			f, _ := fh[0].Open()
			b, _ := io.ReadAll(f)
			f.Close()
			fileBody = string(b)
		}
		ctx.SetBodyString(`{"id":"77","channel_id":"900","content":"","attachments":[{"id":"5","filename":"obj_0.txt","size":4,"url":"https://cdn.test/a"}]}`)
	}, 0)

	msg, err := client.PostMessage(context.Background(), "900", "", platform.File{Name: "obj_0.txt", Data: []byte("QUJD")})
	if err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}
	if fileName != "obj_0.txt" || fileBody != "QUJD" {
		t.Errorf("server saw file %q with body %q", fileName, fileBody)
	}
	if len(payload.Attachments) != 1 || payload.Attachments[0].Filename != "obj_0.txt" {
		t.Errorf("unexpected payload %+v", payload)
	}
	att, ok := msg.Attachment()
	if !ok || att.URL != "https://cdn.test/a" {
		t.Errorf("unexpected message %+v", msg)
	}
}

func TestListMessagesQuery(t *testing.T) {
	var limit, before string
	client := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		limit = string(ctx.QueryArgs().Peek("limit"))
		before = string(ctx.QueryArgs().Peek("before"))
		ctx.SetBodyString(`[{"id":"3"},{"id":"2"}]`)
	}, 0)

	msgs, err := client.ListMessages(context.Background(), "900", "4", 100)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if limit != "100" || before != "4" {
		t.Errorf("unexpected query limit=%q before=%q", limit, before)
	}
	if len(msgs) != 2 || msgs[0].ID != "3" {
		t.Errorf("unexpected messages %+v", msgs)
	}

	if _, err := client.ListMessages(context.Background(), "900", "", 101); err == nil {
		t.Error("expected error for limit above page size")
	}
}

func TestRateLimitRetry(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if atomic.AddInt32(&calls, 1) == 1 {
			ctx.SetStatusCode(fasthttp.StatusTooManyRequests)
			ctx.SetBodyString(`{"message":"You are being rate limited.","retry_after":0.01,"global":false}`)
			return
		}
		ctx.SetBodyString(`[]`)
	}, 2)

	if _, err := client.ListMessages(context.Background(), "900", "", 10); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("expected 2 calls, got %d", n)
	}
}

func TestRateLimitExhausted(t *testing.T) {
	client := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusTooManyRequests)
		ctx.SetBodyString(`{"message":"slow down","retry_after":0.001}`)
	}, 1)

	_, err := client.ListMessages(context.Background(), "900", "", 10)
	var apiErr *platform.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != fasthttp.StatusTooManyRequests {
		t.Fatalf("expected 429 APIError, got %v", err)
	}
}

func TestFetchBytesNotFound(t *testing.T) {
	client := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == "/ok" {
			ctx.SetBodyString("payload")
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}, 0)

	data, err := client.FetchBytes(context.Background(), "http://cdn.test/ok")
	if err != nil || string(data) != "payload" {
		t.Fatalf("FetchBytes = %q, %v", data, err)
	}

	_, err = client.FetchBytes(context.Background(), "http://cdn.test/missing")
	if !errors.Is(err, platform.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
