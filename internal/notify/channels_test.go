package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/evergrid-labs/bidwatch/internal/monitor"
)

var sampleBatch = []monitor.StoredRecord{
	{
		Record: monitor.Record{
			Title:       "某光伏电站无人机巡检采购公告",
			URL:         "https://example.gov.cn/notice/1.html",
			PublishDate: "2026-08-25",
			Source:      "中国政府采购网",
		},
		UniqueID: "uid-1",
	},
}

func TestAliyunPercentEncode(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a%20b", aliyunPercentEncode("a b"))
	require.Equal(t, "%2A", aliyunPercentEncode("*"))
	require.Equal(t, "~", aliyunPercentEncode("~"))
	require.Equal(t, "%2F", aliyunPercentEncode("/"))
}

func TestAliyunSignIsDeterministic(t *testing.T) {
	t.Parallel()

	params := map[string]string{
		"Action":      "SendSms",
		"AccessKeyId": "testid",
		"Format":      "JSON",
	}
	sig1 := aliyunSign("secret", http.MethodPost, params)
	sig2 := aliyunSign("secret", http.MethodPost, params)
	require.Equal(t, sig1, sig2)
	require.NotEqual(t, sig1, aliyunSign("other", http.MethodPost, params))
	require.NotEqual(t, sig1, aliyunSign("secret", http.MethodGet, params))
}

func TestSMSSend(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "SendSms", r.Form.Get("Action"))
		require.Equal(t, "13800000000", r.Form.Get("PhoneNumbers"))
		require.Equal(t, "SMS_123", r.Form.Get("TemplateCode"))
		require.NotEmpty(t, r.Form.Get("Signature"))

		var tp map[string]string
		require.NoError(t, json.Unmarshal([]byte(r.Form.Get("TemplateParam")), &tp))
		require.Equal(t, "1", tp["count"])
		require.Equal(t, "中国政府采购网", tp["source"])

		_, _ = w.Write([]byte(`{"Code":"OK"}`))
	}))
	defer srv.Close()

	sms := NewSMS(SMSConfig{AccessKeyID: "id", AccessKeySecret: "secret", SignName: "监控", TemplateCode: "SMS_123"}, zap.NewNop())
	sms.endpoint = srv.URL
	sms.now = func() time.Time { return time.Unix(1700000000, 0) }

	err := sms.Send(context.Background(), monitor.Contact{Name: "c", Phone: "13800000000"}, sampleBatch)
	require.NoError(t, err)
}

func TestSMSSendRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Code":"isv.BUSINESS_LIMIT_CONTROL","Message":"rate limited"}`))
	}))
	defer srv.Close()

	sms := NewSMS(SMSConfig{}, zap.NewNop())
	sms.endpoint = srv.URL

	err := sms.Send(context.Background(), monitor.Contact{Phone: "1"}, sampleBatch)
	require.ErrorContains(t, err, "BUSINESS_LIMIT_CONTROL")
}

func TestSMSSkipsContactWithoutPhone(t *testing.T) {
	t.Parallel()

	sms := NewSMS(SMSConfig{}, zap.NewNop())
	err := sms.Send(context.Background(), monitor.Contact{Name: "c"}, sampleBatch)
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestVoiceSend(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "SingleCallByTts", q.Get("Action"))
		require.Equal(t, "13800000000", q.Get("CalledNumber"))
		require.Equal(t, "TTS_1", q.Get("TtsCode"))
		require.NotEmpty(t, q.Get("Signature"))
		_, _ = w.Write([]byte(`{"Code":"OK"}`))
	}))
	defer srv.Close()

	voice := NewVoice(VoiceConfig{AccessKeyID: "id", AccessKeySecret: "secret", TTSCode: "TTS_1"}, zap.NewNop())
	voice.endpoint = srv.URL

	err := voice.Send(context.Background(), monitor.Contact{Phone: "13800000000"}, sampleBatch)
	require.NoError(t, err)
}

func TestWebhookSend(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "tok-1", payload["token"])
		require.Equal(t, "html", payload["template"])
		require.Contains(t, payload["content"], "某光伏电站无人机巡检采购公告")
		_, _ = w.Write([]byte(`{"code":200}`))
	}))
	defer srv.Close()

	wh := NewWebhook(zap.NewNop())
	wh.endpoint = srv.URL

	err := wh.Send(context.Background(), monitor.Contact{ChatToken: "tok-1"}, sampleBatch)
	require.NoError(t, err)

	err = wh.Send(context.Background(), monitor.Contact{}, sampleBatch)
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestEmailSend(t *testing.T) {
	t.Parallel()

	email := NewEmail(zap.NewNop())
	var gotHost string
	email.send = func(_ context.Context, _ monitor.Contact, preset smtpPreset, _ *mail.Msg) error {
		gotHost = preset.host
		return nil
	}

	contact := monitor.Contact{Name: "c", Email: "user@qq.com", EmailPassword: "authcode", EmailType: "qq"}
	require.NoError(t, email.Send(context.Background(), contact, sampleBatch))
	require.Equal(t, "smtp.qq.com", gotHost)
}

func TestEmailSkipsAndValidates(t *testing.T) {
	t.Parallel()

	email := NewEmail(zap.NewNop())
	err := email.Send(context.Background(), monitor.Contact{Email: "user@qq.com"}, sampleBatch)
	require.ErrorIs(t, err, ErrNotConfigured)

	err = email.Send(context.Background(), monitor.Contact{Email: "u@x.com", EmailPassword: "p", EmailType: "unknown"}, sampleBatch)
	require.ErrorContains(t, err, "unknown email provider")
}

func TestBodiesIncludeEveryRecord(t *testing.T) {
	t.Parallel()

	batch := append([]monitor.StoredRecord{}, sampleBatch...)
	batch = append(batch, monitor.StoredRecord{
		Record:   monitor.Record{Title: "第二条公告内容", URL: "https://example.gov.cn/notice/2.html"},
		UniqueID: "uid-2",
	})

	plain := plainBody(batch)
	require.Contains(t, plain, "2 条新的招标信息")
	require.Contains(t, plain, "第二条公告内容")

	html := htmlBody(batch)
	require.Contains(t, html, "https://example.gov.cn/notice/2.html")
}
