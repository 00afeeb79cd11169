package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingPolicy holds the tunable thresholds of the billing guards.
type BillingPolicy struct {
	GracePeriod               time.Duration `mapstructure:"gracePeriod"`
	CriticalHours             float64       `mapstructure:"criticalHours"`
	AlertCooldown             time.Duration `mapstructure:"alertCooldown"`
	ReconciliationTolerance   float64       `mapstructure:"reconciliationTolerance"`
	StaleLockThreshold        time.Duration `mapstructure:"staleLockThreshold"`
	WebhookTimeout            time.Duration `mapstructure:"webhookTimeout"`
	MaxEventsPerEvaluation    int           `mapstructure:"maxEventsPerEvaluation"`
	LegacyMetadataCorrelation bool          `mapstructure:"legacyMetadataCorrelation"`
	ResolverCacheTTL          time.Duration `mapstructure:"resolverCacheTTL"`
}

func DefaultBillingPolicy() BillingPolicy {
	return BillingPolicy{
		GracePeriod:             72 * time.Hour,
		CriticalHours:           12,
		AlertCooldown:           24 * time.Hour,
		ReconciliationTolerance: 0.01,
		StaleLockThreshold:      72 * time.Hour,
		WebhookTimeout:          10 * time.Second,
		MaxEventsPerEvaluation:  10000,
		ResolverCacheTTL:        5 * time.Minute,
	}
}

// PolicyProvider returns the current billing policy snapshot.
type PolicyProvider interface {
	Policy() BillingPolicy
}

// StaticPolicy is a fixed PolicyProvider.
type StaticPolicy BillingPolicy

func (p StaticPolicy) Policy() BillingPolicy { return BillingPolicy(p) }

type BillingPolicyHolder struct {
	current atomic.Value // holds BillingPolicy
}

// NewBillingPolicyHolder reads billing.yml and keeps it fresh on file changes.
// A missing file falls back to DefaultBillingPolicy.
func NewBillingPolicyHolder(cfg Config, log *zap.Logger) (*BillingPolicyHolder, error) {
	log = log.Named("config.billing")
	v := viper.New()

	if cfg.BillingPolicyPath != "" {
		v.SetConfigFile(cfg.BillingPolicyPath)
	} else {
		v.SetConfigName("billing")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/billingguard")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("BILLINGGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setPolicyDefaults(v)

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		found = false
	}

	policy, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}

	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)

	if found {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodePolicy(v)
			if err != nil {
				log.Warn("billing policy reload rejected", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("billing policy reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *BillingPolicyHolder) Policy() BillingPolicy {
	return h.current.Load().(BillingPolicy)
}

func setPolicyDefaults(v *viper.Viper) {
	d := DefaultBillingPolicy()
	v.SetDefault("billing.gracePeriod", d.GracePeriod)
	v.SetDefault("billing.criticalHours", d.CriticalHours)
	v.SetDefault("billing.alertCooldown", d.AlertCooldown)
	v.SetDefault("billing.reconciliationTolerance", d.ReconciliationTolerance)
	v.SetDefault("billing.staleLockThreshold", d.StaleLockThreshold)
	v.SetDefault("billing.webhookTimeout", d.WebhookTimeout)
	v.SetDefault("billing.maxEventsPerEvaluation", d.MaxEventsPerEvaluation)
	v.SetDefault("billing.legacyMetadataCorrelation", d.LegacyMetadataCorrelation)
	v.SetDefault("billing.resolverCacheTTL", d.ResolverCacheTTL)
}

func decodePolicy(v *viper.Viper) (BillingPolicy, error) {
	// Unmarshal walks leaf keys, so file values merge with per-field defaults.
	var wrapper struct {
		Billing BillingPolicy `mapstructure:"billing"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return BillingPolicy{}, err
	}
	if err := ValidateBillingPolicy(wrapper.Billing); err != nil {
		return BillingPolicy{}, err
	}
	return wrapper.Billing, nil
}

func ValidateBillingPolicy(p BillingPolicy) error {
	var errs []error
	if p.GracePeriod <= 0 {
		errs = append(errs, errors.New("billing.gracePeriod must be positive"))
	}
	if p.CriticalHours <= 0 {
		errs = append(errs, errors.New("billing.criticalHours must be positive"))
	}
	if p.AlertCooldown < 0 {
		errs = append(errs, errors.New("billing.alertCooldown cannot be negative"))
	}
	if p.ReconciliationTolerance < 0 || p.ReconciliationTolerance >= 1 {
		errs = append(errs, errors.New("billing.reconciliationTolerance must be in [0, 1)"))
	}
	if p.StaleLockThreshold <= 0 {
		errs = append(errs, errors.New("billing.staleLockThreshold must be positive"))
	}
	if p.WebhookTimeout <= 0 {
		errs = append(errs, errors.New("billing.webhookTimeout must be positive"))
	}
	if p.MaxEventsPerEvaluation <= 0 {
		errs = append(errs, errors.New("billing.maxEventsPerEvaluation must be positive"))
	}
	return errors.Join(errs...)
}
