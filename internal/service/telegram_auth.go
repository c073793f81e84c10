package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var ErrBadInitData = errors.New("невалидная init data")

// AuthenticateInitData проверяет HMAC Telegram WebApp init_data,
// отклоняет устаревшие данные (replay) и возвращает telegram id пользователя -
// он же ownerId всех снапшотов этого пользователя
func AuthenticateInitData(initData, botToken string) (int64, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return 0, ErrBadInitData
	}

	provided, err := hex.DecodeString(values.Get("hash"))
	if err != nil || len(provided) == 0 {
		return 0, ErrBadInitData
	}
	values.Del("hash")

	var pairs []string
	for k, v := range values {
		pairs = append(pairs, k+"="+strings.Join(v, ""))
	}
	sort.Strings(pairs)

	// Telegram WebApp использует HMAC с ключом "WebAppData"
	keyer := hmac.New(sha256.New, []byte("WebAppData"))
	keyer.Write([]byte(botToken))
	mac := hmac.New(sha256.New, keyer.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))
	if !hmac.Equal(mac.Sum(nil), provided) {
		return 0, ErrBadInitData
	}

	// auth_date должен быть недавним: час назад максимум,
	// небольшая рассинхронизация часов вперед допустима
	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return 0, ErrBadInitData
	}
	now := time.Now().Unix()
	if now-authDate > 3600 || authDate-now > 300 {
		return 0, ErrBadInitData
	}

	var user struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID == 0 {
		return 0, ErrBadInitData
	}
	return user.ID, nil
}
