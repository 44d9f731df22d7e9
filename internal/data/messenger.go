package data

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bubu-agent/bubu/internal/biz/repo"
	"github.com/bubu-agent/bubu/internal/conf"
	"github.com/bubu-agent/bubu/internal/infra/feishu"
	"github.com/bubu-agent/bubu/internal/infra/whatsapp"
)

// NewMessenger builds the provider selected by WHATSAPP_PROVIDER
func NewMessenger(s *conf.Settings, log zerolog.Logger) (repo.Messenger, error) {
	retry := whatsapp.DefaultRetryPolicy
	if s.SendRetries > 0 {
		retry.MaxAttempts = s.SendRetries
	}

	switch s.Provider {
	case conf.ProviderTwilio:
		return whatsapp.NewTwilio(whatsapp.TwilioConfig{
			AccountSID: s.TwilioAccountSID,
			AuthToken:  s.TwilioAuthToken,
			From:       s.TwilioWhatsAppFrom,
			BaseURL:    s.TwilioBaseURL,
			Retry:      retry,
		}, log), nil
	case conf.ProviderMeta:
		return whatsapp.NewMeta(whatsapp.MetaConfig{
			AccessToken:   s.MetaAccessToken,
			PhoneNumberID: s.MetaPhoneNumberID,
			APIVersion:    s.MetaAPIVersion,
			BaseURL:       s.MetaBaseURL,
			Retry:         retry,
		}, log), nil
	case conf.ProviderUltramsg:
		return whatsapp.NewUltramsg(whatsapp.UltramsgConfig{
			InstanceID: s.UltramsgInstanceID,
			Token:      s.UltramsgToken,
			BaseURL:    s.UltramsgBaseURL,
			Retry:      retry,
		}, log), nil
	case conf.ProviderFeishu:
		return feishu.NewClient(s.FeishuAppID, s.FeishuAppSecret, s.FeishuChatID, log), nil
	case conf.ProviderDryRun:
		return whatsapp.NewDryRun(log), nil
	}
	return nil, fmt.Errorf("unsupported provider %q", s.Provider)
}
