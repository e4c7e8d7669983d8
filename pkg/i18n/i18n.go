package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	ServerListening    string
	ShuttingDown       string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	APIServerError     string

	// Account
	AccountAdded        string
	InsufficientCash    string
	InsufficientShares  string

	// Orders
	BuyStaged         string
	BuyCommitted      string
	BuyCanceled       string
	SellStaged        string
	SellCommitted     string
	SellCanceled      string
	NoStagedIntent    string
	IntentExpired     string

	// Triggers
	BuyTriggerArmed    string
	SellTriggerArmed   string
	TriggerFired       string
	TriggerCanceled    string
	NoReservationFound string

	// Quote oracle
	QuoteServerHit     string
	QuoteServerTimeout string
	QuoteServerDial    string

	// Audit
	DumplogWritten    string
	DumplogFailed     string
	AuditTimestampBad string

	// Services
	TriggerLoopStarted string
	SweeperStarted     string
	IngressStarted     string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	Starting:           "Starting trading-core engine...",
	ConfigLoaded:       "Config loaded (Port: %s)",
	UsingDBPath:        "Using DB path: %s",
	ServerListening:    "Server listening on :%s",
	ShuttingDown:       "Shutting down gracefully...",
	ConfigLoadFailed:   "Failed to load config: %v",
	DBInitFailed:       "Failed to init database: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	APIServerError:     "API server error: %v",

	AccountAdded:       "Account %s credited %s",
	InsufficientCash:   "Insufficient cash: need %s, have %s",
	InsufficientShares: "Insufficient shares of %s: need %s, have %s",

	BuyStaged:      "BUY staged for %s: %s shares of %s at %s",
	BuyCommitted:   "BUY committed for %s: %s shares of %s",
	BuyCanceled:    "BUY canceled for %s",
	SellStaged:     "SELL staged for %s: %s shares of %s at %s",
	SellCommitted:  "SELL committed for %s: %s shares of %s",
	SellCanceled:   "SELL canceled for %s",
	NoStagedIntent: "No %s staged for %s",
	IntentExpired:  "Staged %s for %s expired after %v",

	BuyTriggerArmed:    "BUY trigger armed for %s/%s at %s",
	SellTriggerArmed:   "SELL trigger armed for %s/%s at %s",
	TriggerFired:       "Trigger fired: %s %s %s shares of %s at %s",
	TriggerCanceled:    "Trigger canceled for %s/%s",
	NoReservationFound: "No reservation found for %s/%s",

	QuoteServerHit:     "Quote server hit: %s/%s -> %s",
	QuoteServerTimeout: "Quote server timeout for %s/%s: %v",
	QuoteServerDial:    "Quote server dial failed for %s: %v",

	DumplogWritten:    "Dumplog written to %s",
	DumplogFailed:     "Dumplog failed: %v",
	AuditTimestampBad: "Audit event rejected: timestamp outside plausibility window",

	TriggerLoopStarted: "Trigger loop started, polling every %v",
	SweeperStarted:     "Pending-intent sweeper started, interval %v",
	IngressStarted:     "Ingress listening on :%s",
}

// Chinese messages
var messagesZH = Messages{
	Starting:           "啟動 trading-core 引擎...",
	ConfigLoaded:       "設定已載入（埠號：%s）",
	UsingDBPath:        "使用資料庫路徑：%s",
	ServerListening:    "服務監聽於 :%s",
	ShuttingDown:       "正在優雅關閉...",
	ConfigLoadFailed:   "讀取設定失敗：%v",
	DBInitFailed:       "初始化資料庫失敗：%v",
	DBMigrationsFailed: "套用資料庫遷移失敗：%v",
	APIServerError:     "API 伺服器錯誤：%v",

	AccountAdded:       "帳戶 %s 已存入 %s",
	InsufficientCash:   "現金不足：需求 %s，現有 %s",
	InsufficientShares: "%s 股數不足：需求 %s，現有 %s",

	BuyStaged:      "%s 的 BUY 已暫存：%s 股 %s，價格 %s",
	BuyCommitted:   "%s 的 BUY 已成交：%s 股 %s",
	BuyCanceled:    "%s 的 BUY 已取消",
	SellStaged:     "%s 的 SELL 已暫存：%s 股 %s，價格 %s",
	SellCommitted:  "%s 的 SELL 已成交：%s 股 %s",
	SellCanceled:   "%s 的 SELL 已取消",
	NoStagedIntent: "%[2]s 尚未暫存 %[1]s",
	IntentExpired:  "%[2]s 暫存的 %[1]s 已於 %[3]v 後過期",

	BuyTriggerArmed:    "%s/%s 的 BUY 觸發已設定，價格 %s",
	SellTriggerArmed:   "%s/%s 的 SELL 觸發已設定，價格 %s",
	TriggerFired:       "觸發成交：%s %s %s 股 %s，價格 %s",
	TriggerCanceled:    "%s/%s 的觸發已取消",
	NoReservationFound: "找不到 %s/%s 的保留額度",

	QuoteServerHit:     "報價伺服器回應：%s/%s -> %s",
	QuoteServerTimeout: "%s/%s 報價逾時：%v",
	QuoteServerDial:    "連線報價伺服器失敗 %s：%v",

	DumplogWritten:    "稽核紀錄已寫入 %s",
	DumplogFailed:     "稽核紀錄寫入失敗：%v",
	AuditTimestampBad: "稽核事件被拒：時間戳超出合理範圍",

	TriggerLoopStarted: "觸發迴圈已啟動，輪詢間隔 %v",
	SweeperStarted:     "暫存清除器已啟動，間隔 %v",
	IngressStarted:     "Ingress 監聽於 :%s",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
