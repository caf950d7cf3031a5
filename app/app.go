// Package app wires fieldcrypt's components together from a Config.
package app

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/pkg/errors"
	"github.com/remind101/fieldcrypt/config"
	"github.com/remind101/fieldcrypt/crypto/aead"
	"github.com/remind101/fieldcrypt/crypto/envelope"
	"github.com/remind101/fieldcrypt/cryptostate"
	"github.com/remind101/fieldcrypt/database"
	"github.com/remind101/fieldcrypt/fieldcodec"
	"github.com/remind101/fieldcrypt/keyregistry"
	"github.com/remind101/fieldcrypt/logger"
	"github.com/remind101/fieldcrypt/rotation"
	"github.com/remind101/fieldcrypt/txn"
)

// App holds every long lived component.
type App struct {
	Config   *config.Config
	DB       *database.DB
	Registry keyregistry.Store
	Crypto   *envelope.Crypto
	State    *cryptostate.Context
	Codec    *fieldcodec.Codec
	Txns     *txn.Repository
	Rotation *rotation.Engine
}

// New opens the database, builds the crypto stack and bootstraps the write
// label.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a, err := newWithDB(ctx, cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func newWithDB(ctx context.Context, cfg *config.Config, db *database.DB) (*App, error) {
	if err := db.Migrate(ctx); err != nil {
		return nil, err
	}

	var sess *session.Session
	awsSession := func() (*session.Session, error) {
		if sess != nil {
			return sess, nil
		}
		var err error
		sess, err = session.NewSession(aws.NewConfig().WithRegion(cfg.AWSRegion))
		return sess, errors.Wrap(err, "creating aws session")
	}

	var registry keyregistry.Store
	switch cfg.Registry {
	case config.RegistryDynamo:
		s, err := awsSession()
		if err != nil {
			return nil, err
		}
		d := keyregistry.NewDynamoRegistry(s, cfg.DynamoTable)
		if err := d.CreateTable(ctx); err != nil {
			return nil, err
		}
		registry = d
	default:
		registry = keyregistry.NewSQLRegistry(db)
	}

	var wrapper envelope.Wrapper
	switch cfg.WrapProvider {
	case envelope.ModeKMS:
		s, err := awsSession()
		if err != nil {
			return nil, err
		}
		wrapper = envelope.NewKMSWrapper(s, cfg.KMSKeyID)
	default:
		w, err := envelope.NewSecretBoxWrapperFromBase64(cfg.LocalKEK)
		if err != nil {
			return nil, err
		}
		wrapper = w
	}

	cipher, err := aead.New(cfg.AEAD, cfg.AllowNullAEAD)
	if err != nil {
		return nil, err
	}
	if cipher.Name() == aead.NameNull {
		logger.Warn(ctx, "null aead selected, field values are NOT encrypted")
	}

	crypto := envelope.NewCrypto(wrapper, cipher)
	state := cryptostate.New(cryptostate.Options{
		Registry: registry,
		Settings: registry,
		Crypto:   crypto,
	})
	if err := state.Bootstrap(ctx, cfg.InitialLabel); err != nil {
		return nil, errors.Wrap(err, "bootstrapping write label")
	}

	codec := fieldcodec.New(fieldcodec.Options{
		State:       state,
		Cipher:      crypto,
		AADTag:      cfg.AADTag,
		LegacyLabel: cfg.InitialLabel,
	})
	store := txn.NewSQLStore(db)

	a := &App{
		Config:   cfg,
		DB:       db,
		Registry: registry,
		Crypto:   crypto,
		State:    state,
		Codec:    codec,
		Txns:     txn.NewRepository(store, codec),
		Rotation: rotation.New(rotation.Options{
			State:           state,
			Codec:           codec,
			Rows:            store,
			Fields:          txn.Fields,
			RunLog:          rotation.NewSQLRunLog(db),
			BatchSize:       cfg.BatchSize,
			FailSampleLimit: cfg.FailSampleLimit,
			ETA: rotation.ETAThresholds{
				Pct:      cfg.ETAWarnPct,
				MinDelta: cfg.ETAWarnMinDelta(),
			},
		}),
	}

	logger.Info(ctx, "fieldcrypt ready",
		"wrap_provider", crypto.Mode(),
		"aead", crypto.AEAD(),
		"registry", cfg.Registry,
		"database", db.Driver,
		"write_label", state.WriteLabel(),
	)
	return a, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
