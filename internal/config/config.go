package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fairdraw/raffled/internal/core/application"
	"github.com/fairdraw/raffled/internal/core/ports"
	"github.com/fairdraw/raffled/internal/infrastructure/db"
	"github.com/fairdraw/raffled/internal/infrastructure/oracle/beacon"
	timescheduler "github.com/fairdraw/raffled/internal/infrastructure/scheduler/gocron"
	"github.com/fairdraw/raffled/internal/infrastructure/wallet/ledger"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var (
	supportedEventDbs = supportedType{
		"badger": {},
	}
	supportedDbs = supportedType{
		"badger": {},
	}
	supportedSchedulers = supportedType{
		"gocron": {},
	}
	supportedOracles = supportedType{
		"beacon": {},
	}
	supportedWallets = supportedType{
		"ledger": {},
	}
)

type Config struct {
	Datadir  string
	Port     uint32
	LogLevel int

	DbType      string
	EventDbType string
	DbDir       string
	EventDbDir  string

	RoundInterval      int64
	EntranceFee        uint64
	UpkeepPollInterval int64

	SchedulerType string
	OracleType    string
	WalletType    string

	OracleKeyHash          string
	OracleSubscriptionId   uint64
	OracleConfirmations    uint32
	OracleCallbackGasLimit uint32
	OracleBlockTime        time.Duration

	repo      ports.RepoManager
	svc       application.Service
	wallet    ports.WalletService
	oracle    ports.RandomnessSource
	scheduler ports.SchedulerService
}

func (c *Config) String() string {
	json, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	Datadir                = "DATADIR"
	Port                   = "PORT"
	LogLevel               = "LOG_LEVEL"
	DbType                 = "DB_TYPE"
	EventDbType            = "EVENT_DB_TYPE"
	RoundInterval          = "ROUND_INTERVAL"
	EntranceFee            = "ENTRANCE_FEE"
	UpkeepPollInterval     = "UPKEEP_POLL_INTERVAL"
	SchedulerType          = "SCHEDULER_TYPE"
	OracleType             = "ORACLE_TYPE"
	WalletType             = "WALLET_TYPE"
	OracleKeyHash          = "ORACLE_KEY_HASH"
	OracleSubscriptionId   = "ORACLE_SUBSCRIPTION_ID"
	OracleConfirmations    = "ORACLE_CONFIRMATIONS"
	OracleCallbackGasLimit = "ORACLE_CALLBACK_GAS_LIMIT"
	OracleBlockTime        = "ORACLE_BLOCK_TIME"

	defaultDatadir                = appDataDir("raffled")
	DefaultPort                   = 7080
	defaultLogLevel               = 4
	defaultDbType                 = "badger"
	defaultEventDbType            = "badger"
	defaultRoundInterval          = 60
	defaultEntranceFee            = 10
	defaultUpkeepPollInterval     = 5
	defaultSchedulerType          = "gocron"
	defaultOracleType             = "beacon"
	defaultWalletType             = "ledger"
	defaultOracleKeyHash          = "default"
	defaultOracleSubscriptionId   = 1
	defaultOracleConfirmations    = 3
	defaultOracleCallbackGasLimit = 100000
	defaultOracleBlockTime        = time.Second
)

func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("RAFFLED")
	viper.AutomaticEnv()

	viper.SetDefault(Datadir, defaultDatadir)
	viper.SetDefault(Port, DefaultPort)
	viper.SetDefault(LogLevel, defaultLogLevel)
	viper.SetDefault(DbType, defaultDbType)
	viper.SetDefault(EventDbType, defaultEventDbType)
	viper.SetDefault(RoundInterval, defaultRoundInterval)
	viper.SetDefault(EntranceFee, defaultEntranceFee)
	viper.SetDefault(UpkeepPollInterval, defaultUpkeepPollInterval)
	viper.SetDefault(SchedulerType, defaultSchedulerType)
	viper.SetDefault(OracleType, defaultOracleType)
	viper.SetDefault(WalletType, defaultWalletType)
	viper.SetDefault(OracleKeyHash, defaultOracleKeyHash)
	viper.SetDefault(OracleSubscriptionId, defaultOracleSubscriptionId)
	viper.SetDefault(OracleConfirmations, defaultOracleConfirmations)
	viper.SetDefault(OracleCallbackGasLimit, defaultOracleCallbackGasLimit)
	viper.SetDefault(OracleBlockTime, defaultOracleBlockTime)

	if err := initDatadir(); err != nil {
		return nil, fmt.Errorf("error while creating datadir: %s", err)
	}

	dbPath := filepath.Join(viper.GetString(Datadir), "db")

	return &Config{
		Datadir:                viper.GetString(Datadir),
		Port:                   viper.GetUint32(Port),
		LogLevel:               viper.GetInt(LogLevel),
		DbType:                 viper.GetString(DbType),
		EventDbType:            viper.GetString(EventDbType),
		DbDir:                  dbPath,
		EventDbDir:             dbPath,
		RoundInterval:          viper.GetInt64(RoundInterval),
		EntranceFee:            viper.GetUint64(EntranceFee),
		UpkeepPollInterval:     viper.GetInt64(UpkeepPollInterval),
		SchedulerType:          viper.GetString(SchedulerType),
		OracleType:             viper.GetString(OracleType),
		WalletType:             viper.GetString(WalletType),
		OracleKeyHash:          viper.GetString(OracleKeyHash),
		OracleSubscriptionId:   viper.GetUint64(OracleSubscriptionId),
		OracleConfirmations:    viper.GetUint32(OracleConfirmations),
		OracleCallbackGasLimit: viper.GetUint32(OracleCallbackGasLimit),
		OracleBlockTime:        viper.GetDuration(OracleBlockTime),
	}, nil
}

func initDatadir() error {
	datadir := viper.GetString(Datadir)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

func appDataDir(appName string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + appName
	}
	return filepath.Join(home, "."+appName)
}

func (c *Config) Validate() error {
	if !supportedEventDbs.supports(c.EventDbType) {
		return fmt.Errorf("event db type not supported, please select one of: %s", supportedEventDbs)
	}
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if !supportedSchedulers.supports(c.SchedulerType) {
		return fmt.Errorf("scheduler type not supported, please select one of: %s", supportedSchedulers)
	}
	if !supportedOracles.supports(c.OracleType) {
		return fmt.Errorf("oracle type not supported, please select one of: %s", supportedOracles)
	}
	if !supportedWallets.supports(c.WalletType) {
		return fmt.Errorf("wallet type not supported, please select one of: %s", supportedWallets)
	}
	if c.RoundInterval < 2 {
		return fmt.Errorf("invalid round interval, must be at least 2 seconds")
	}
	if c.EntranceFee <= 0 {
		return fmt.Errorf("invalid entrance fee, must be greater than 0")
	}
	if c.UpkeepPollInterval < 1 {
		return fmt.Errorf("invalid upkeep poll interval, must be at least 1 second")
	}

	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.walletService(); err != nil {
		return err
	}
	if err := c.oracleService(); err != nil {
		return err
	}
	if err := c.schedulerService(); err != nil {
		return err
	}
	return nil
}

func (c *Config) AppService() (application.Service, error) {
	if c.svc == nil {
		if err := c.appService(); err != nil {
			return nil, err
		}
	}
	return c.svc, nil
}

func (c *Config) WalletService() ports.WalletService {
	return c.wallet
}

func (c *Config) repoManager() error {
	var eventStoreConfig []interface{}
	var dataStoreConfig []interface{}
	logger := log.New()

	switch c.EventDbType {
	case "badger":
		eventStoreConfig = []interface{}{c.EventDbDir, logger}
	default:
		return fmt.Errorf("unknown event db type")
	}

	switch c.DbType {
	case "badger":
		dataStoreConfig = []interface{}{c.DbDir, logger}
	default:
		return fmt.Errorf("unknown db type")
	}

	svc, err := db.NewService(db.ServiceConfig{
		EventStoreType:   c.EventDbType,
		DataStoreType:    c.DbType,
		EventStoreConfig: eventStoreConfig,
		DataStoreConfig:  dataStoreConfig,
	})
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) walletService() error {
	var svc ports.WalletService
	var err error
	switch c.WalletType {
	case "ledger":
		svc, err = ledger.NewService(c.DbDir, log.New())
	default:
		err = fmt.Errorf("unknown wallet type")
	}
	if err != nil {
		return err
	}

	c.wallet = svc
	return nil
}

func (c *Config) oracleService() error {
	var svc ports.RandomnessSource
	var err error
	switch c.OracleType {
	case "beacon":
		svc = beacon.NewService(c.OracleBlockTime)
	default:
		err = fmt.Errorf("unknown oracle type")
	}
	if err != nil {
		return err
	}

	c.oracle = svc
	return nil
}

func (c *Config) schedulerService() error {
	var svc ports.SchedulerService
	var err error
	switch c.SchedulerType {
	case "gocron":
		svc = timescheduler.NewScheduler()
	default:
		err = fmt.Errorf("unknown scheduler type")
	}
	if err != nil {
		return err
	}

	c.scheduler = svc
	return nil
}

func (c *Config) appService() error {
	requestParams := ports.RandomnessRequest{
		KeyHash:          c.OracleKeyHash,
		SubscriptionId:   c.OracleSubscriptionId,
		Confirmations:    c.OracleConfirmations,
		CallbackGasLimit: c.OracleCallbackGasLimit,
		NumWords:         1,
	}

	svc, err := application.NewService(
		c.EntranceFee,
		time.Duration(c.RoundInterval)*time.Second,
		time.Duration(c.UpkeepPollInterval)*time.Second,
		requestParams,
		c.wallet, c.oracle, c.scheduler, c.repo,
	)
	if err != nil {
		return err
	}

	c.svc = svc
	return nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
