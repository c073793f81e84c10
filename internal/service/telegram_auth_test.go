package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"
)

// собирает валидную init_data тем же алгоритмом, что и прод-код
func buildInitData(t *testing.T, botToken string, fields map[string]string) string {
	t.Helper()
	var pairs []string
	for k, v := range fields {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)

	keyer := hmac.New(sha256.New, []byte("WebAppData"))
	keyer.Write([]byte(botToken))
	mac := hmac.New(sha256.New, keyer.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))

	vals := url.Values{}
	for k, v := range fields {
		vals.Add(k, v)
	}
	vals.Add("hash", hex.EncodeToString(mac.Sum(nil)))
	return vals.Encode()
}

func validFields() map[string]string {
	return map[string]string{
		"auth_date": strconv.FormatInt(time.Now().Unix(), 10),
		"user":      `{"id":42,"username":"u","first_name":"F"}`,
	}
}

func TestAuthenticateInitData_Valid(t *testing.T) {
	token := "test-bot-token"
	initData := buildInitData(t, token, validFields())

	id, err := AuthenticateInitData(initData, token)
	if err != nil {
		t.Fatalf("ожидалась валидная init data, получено %v", err)
	}
	if id != 42 {
		t.Fatalf("id пользователя = %d, ожидалось 42", id)
	}
}

func TestAuthenticateInitData_Tampered(t *testing.T) {
	token := "test-bot-token"
	initData := buildInitData(t, token, validFields())

	// лишнее поле ломает хэш
	if _, err := AuthenticateInitData(initData+"&x=1", token); err == nil {
		t.Fatalf("измененная init data не должна проходить")
	}
}

func TestAuthenticateInitData_WrongToken(t *testing.T) {
	initData := buildInitData(t, "token-a", validFields())
	if _, err := AuthenticateInitData(initData, "token-b"); err == nil {
		t.Fatalf("init data с чужим токеном не должна проходить")
	}
}

func TestAuthenticateInitData_StaleAuthDate(t *testing.T) {
	token := "test-bot-token"
	fields := validFields()
	fields["auth_date"] = strconv.FormatInt(time.Now().Add(-2*time.Hour).Unix(), 10)
	initData := buildInitData(t, token, fields)

	if _, err := AuthenticateInitData(initData, token); err == nil {
		t.Fatalf("устаревшая auth_date не должна проходить")
	}
}

func TestAuthenticateInitData_NoUser(t *testing.T) {
	token := "test-bot-token"
	fields := map[string]string{
		"auth_date": strconv.FormatInt(time.Now().Unix(), 10),
	}
	initData := buildInitData(t, token, fields)

	if _, err := AuthenticateInitData(initData, token); err == nil {
		t.Fatalf("init data без пользователя не должна проходить")
	}
}
