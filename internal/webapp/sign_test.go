package webapp

import (
	"net/url"
	"strings"
	"testing"
)

func TestSign_StableUnderKeyOrder(t *testing.T) {
	a := Sign(map[string]string{"taskId": "17859014", "guestId": "427", "form": "resto_a"}, "secret")
	b := Sign(map[string]string{"form": "resto_a", "guestId": "427", "taskId": "17859014"}, "secret")
	if a != b {
		t.Fatalf("signature depends on map iteration order: %s vs %s", a, b)
	}
}

func TestVerify_RejectsTamperedParams(t *testing.T) {
	params := map[string]string{"taskId": "17859014", "guestId": "427", "form": "resto_a"}
	sig := Sign(params, "secret")

	if !Verify(params, sig, "secret") {
		t.Fatal("valid signature rejected")
	}

	params["guestId"] = "428"
	if Verify(params, sig, "secret") {
		t.Fatal("signature accepted after parameter change")
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	params := map[string]string{"taskId": "1", "guestId": "2", "form": "delivery_a"}
	sig := Sign(params, "secret")
	if Verify(params, sig, "other") {
		t.Fatal("signature accepted under different secret")
	}
}

func TestStartURL_SignatureCoversTimestamp(t *testing.T) {
	raw := StartURL("https://bot.example.com/", 17859014, 427, "resto_a", "secret")

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if !strings.HasPrefix(raw, "https://bot.example.com/webapp/start?") {
		t.Fatalf("unexpected url prefix: %s", raw)
	}

	q := u.Query()
	params := map[string]string{
		"taskId":  q.Get("taskId"),
		"guestId": q.Get("guestId"),
		"form":    q.Get("form"),
		"ts":      q.Get("ts"),
	}
	if q.Get("ts") == "" {
		t.Fatal("ts missing from link")
	}
	if !Verify(params, q.Get("sig"), "secret") {
		t.Fatal("generated link does not verify")
	}

	params["ts"] = "0"
	if Verify(params, q.Get("sig"), "secret") {
		t.Fatal("signature does not cover ts")
	}
}
