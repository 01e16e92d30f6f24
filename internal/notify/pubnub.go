package notify

import (
	"fmt"

	pubnub "github.com/pubnub/go/v7"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tms/internal/domain"
)

// PubNubConfig описывает подключение к PubNub.
type PubNubConfig struct {
	PublishKey    string
	SubscribeKey  string
	UserID        string
	ChannelPrefix string
}

// PubNubNotifier публикует уведомления о переходах платежей во внешний
// PubNub-канал, чтобы мобильные клиенты получали их без открытого
// соединения с сервисом. Ошибки публикации только логируются:
// уведомления дублируют состояние счёта, а не заменяют его.
type PubNubNotifier struct {
	pn            *pubnub.PubNub
	channelPrefix string
	logger        *log.Entry
}

// NewPubNubNotifier создаёт PubNub-нотификатор.
func NewPubNubNotifier(cfg PubNubConfig) *PubNubNotifier {
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.UserID))
	pnCfg.PublishKey = cfg.PublishKey
	pnCfg.SubscribeKey = cfg.SubscribeKey

	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = "tms.payment"
	}

	return &PubNubNotifier{
		pn:            pubnub.NewPubNub(pnCfg),
		channelPrefix: prefix,
		logger:        log.WithField("component", "pubnub-notifier"),
	}
}

// Notify публикует уведомление в канал платежа.
func (n *PubNubNotifier) Notify(paymentID string, notification domain.PaymentNotification) {
	channel := fmt.Sprintf("%s.%s", n.channelPrefix, paymentID)

	_, _, err := n.pn.Publish().
		Channel(channel).
		Message(notification).
		Execute()
	if err != nil {
		n.logger.WithError(err).WithField("payment_id", paymentID).Warn("pubnub publish failed")
	}
}

var _ domain.Notifier = (*PubNubNotifier)(nil)
