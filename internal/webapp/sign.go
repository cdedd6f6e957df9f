// Package webapp builds and verifies signed survey-launch links. The
// signature covers the sorted query parameters so a link cannot be
// replayed for a different task, guest, or form.
package webapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Sign computes the hex HMAC-SHA256 signature of the given parameters.
// Parameters are joined as "k=v" pairs in key order, separated by "&".
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + params[k]
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(params map[string]string, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(params, secret)), []byte(signature))
}

// StartURL builds the signed survey-launch link for a task and guest.
func StartURL(baseURL string, taskID, guestID int64, form, secret string) string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	params := map[string]string{
		"taskId":  strconv.FormatInt(taskID, 10),
		"guestId": strconv.FormatInt(guestID, 10),
		"form":    form,
		"ts":      ts,
	}
	sig := Sign(params, secret)
	return fmt.Sprintf("%s/webapp/start?taskId=%d&guestId=%d&form=%s&sig=%s&ts=%s",
		strings.TrimRight(baseURL, "/"), taskID, guestID, form, sig, ts)
}
