// cmd/container.go
//
// Root composition root. Owns infrastructure (DB, Redis, vault) and wires
// every bounded-context service/handler pair built under pkg/.
package main

import (
	"context"
	"fmt"

	"github.com/Abraxas-365/manifesto/pkg/apikey/apikeyapi"
	"github.com/Abraxas-365/manifesto/pkg/apikey/apikeyinfra"
	"github.com/Abraxas-365/manifesto/pkg/apikey/apikeysrv"
	"github.com/Abraxas-365/manifesto/pkg/credential/credentialapi"
	"github.com/Abraxas-365/manifesto/pkg/credential/credentialinfra"
	"github.com/Abraxas-365/manifesto/pkg/credential/credentialsrv"
	"github.com/Abraxas-365/manifesto/pkg/cryptox"
	"github.com/Abraxas-365/manifesto/pkg/discordoauth"
	"github.com/Abraxas-365/manifesto/pkg/dispatch"
	"github.com/Abraxas-365/manifesto/pkg/logx"
	"github.com/Abraxas-365/manifesto/pkg/notifx"
	"github.com/Abraxas-365/manifesto/pkg/notifx/notifxconsole"
	"github.com/Abraxas-365/manifesto/pkg/notifx/notifxses"
	"github.com/Abraxas-365/manifesto/pkg/notifyx"
	"github.com/Abraxas-365/manifesto/pkg/quota"
	"github.com/Abraxas-365/manifesto/pkg/quota/quotasrv"
	"github.com/Abraxas-365/manifesto/pkg/sysconfig"
	"github.com/Abraxas-365/manifesto/pkg/sysconfig/sysconfiginfra"
	"github.com/Abraxas-365/manifesto/pkg/upstream"
	"github.com/Abraxas-365/manifesto/pkg/usagelog/usageloginfra"
	"github.com/Abraxas-365/manifesto/pkg/user"
	"github.com/Abraxas-365/manifesto/pkg/user/userapi"
	"github.com/Abraxas-365/manifesto/pkg/user/userauth"
	"github.com/Abraxas-365/manifesto/pkg/user/userinfra"
	"github.com/Abraxas-365/manifesto/pkg/user/usersrv"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// Container holds shared infrastructure and every wired service/handler.
type Container struct {
	Config *sysconfig.Config

	DB    *sqlx.DB
	Redis *redis.Client
	Vault *cryptox.Vault

	ConfigRegistry *sysconfig.Registry
	Users          user.Repository
	UserSvc        *usersrv.UserService
	JWT            *userauth.JWTService
	AuthMiddleware *userauth.Middleware

	APIKeys *apikeysrv.APIKeyService

	Refresher          *credentialinfra.Refresher
	CredentialPool     *credentialsrv.Pool
	CredentialUpload   *credentialsrv.UploadService
	CredentialVerifier *credentialsrv.Verifier

	Quota *quotasrv.Service

	UpstreamClient *upstream.Client
	Dispatcher     *dispatch.Dispatcher

	Notifier *notifyx.Notifier
	Discord  *discordoauth.Client

	UserHandlers       *userapi.Handlers
	APIKeyHandlers     *apikeyapi.Handlers
	CredentialHandlers *credentialapi.Handlers
	DispatchHandlers   *dispatch.Handlers
}

func NewContainer(ctx context.Context, cfg *sysconfig.Config) *Container {
	logx.Info("initializing application container")

	c := &Container{Config: cfg}
	c.initInfrastructure(ctx)
	c.initModules(ctx)

	logx.Info("application container initialized")
	return c
}

func (c *Container) initInfrastructure(ctx context.Context) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Config.Database.Host, c.Config.Database.Port, c.Config.Database.User,
		c.Config.Database.Password, c.Config.Database.Name, c.Config.Database.SSLMode)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		logx.Fatalf("failed to connect to database: %v", err)
	}
	db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
	db.SetConnMaxLifetime(c.Config.Database.ConnMaxLifetime)
	c.DB = db
	logx.Info("database connected")

	c.Redis = redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Address(),
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	if _, err := c.Redis.Ping(ctx).Result(); err != nil {
		logx.Fatalf("failed to connect to redis: %v (redis is required)", err)
	}
	logx.Info("redis connected")

	vault, err := cryptox.New(c.Config.Vault.Key)
	if err != nil {
		logx.Fatalf("failed to initialize vault: %v", err)
	}
	c.Vault = vault
}

func (c *Container) initModules(ctx context.Context) {
	configRepo := sysconfiginfra.NewPostgresRepository(c.DB)
	registry, err := sysconfig.NewRegistry(ctx, configRepo)
	if err != nil {
		logx.Fatalf("failed to load config registry: %v", err)
	}
	c.ConfigRegistry = registry

	c.Users = userinfra.NewPostgresRepository(c.DB)
	c.UserSvc = usersrv.NewUserService(c.Users, c.ConfigRegistry)
	c.JWT = userauth.NewJWTService(c.Config.Auth.JWTSecret, c.Config.Auth.AccessTokenTTL)
	c.AuthMiddleware = userauth.NewMiddleware(c.JWT)

	apiKeyRepo := apikeyinfra.NewPostgresRepository(c.DB)
	c.APIKeys = apikeysrv.NewAPIKeyService(apiKeyRepo)

	c.Notifier = c.newNotifier()
	c.Discord = discordoauth.NewClient(discordoauth.Config{
		ClientID:     c.Config.Discord.ClientID,
		ClientSecret: c.Config.Discord.ClientSecret,
		RedirectURL:  c.Config.Discord.RedirectURL,
	})

	credRepo := credentialinfra.NewPostgresRepository(c.DB)
	c.Refresher = credentialinfra.NewRefresher(c.Vault, c.Config.Google.ClientID, c.Config.Google.ClientSecret)
	c.CredentialPool = credentialsrv.NewPool(credRepo, c.Users, c.ConfigRegistry, c.Notifier)
	c.CredentialUpload = credentialsrv.NewUploadService(credRepo, c.Users, c.Vault, c.ConfigRegistry)

	c.UpstreamClient = upstream.NewClient()
	c.CredentialVerifier = credentialsrv.NewVerifier(c.UpstreamClient, credentialinfra.NewDriveChecker())

	usageRepo := usageloginfra.NewPostgresRepository(c.DB)
	limiter := quota.NewRedisLimiter(c.Redis)
	c.Quota = quotasrv.NewService(usageRepo, c.Users, credRepo, limiter, c.ConfigRegistry)

	c.Dispatcher = dispatch.NewDispatcher(c.CredentialPool, c.Refresher, c.UpstreamClient, c.Quota, credRepo, c.ConfigRegistry)

	authenticator := dispatch.NewAuthenticator(c.APIKeys, c.Users)

	c.UserHandlers = userapi.NewHandlers(c.UserSvc, c.JWT, c.Discord)
	c.APIKeyHandlers = apikeyapi.NewHandlers(c.APIKeys)
	c.CredentialHandlers = credentialapi.NewHandlers(credRepo, c.CredentialPool, c.CredentialUpload, c.CredentialVerifier)
	c.DispatchHandlers = dispatch.NewHandlers(authenticator, c.Dispatcher, c.Quota)
}

func (c *Container) newNotifier() *notifyx.Notifier {
	if c.Config.SES.Enabled {
		cfg, err := awsConfig.LoadDefaultConfig(context.Background(), awsConfig.WithRegion(c.Config.SES.Region))
		if err != nil {
			logx.Fatalf("unable to load aws sdk config for ses: %v", err)
		}
		client := notifx.NewClient(notifxses.NewSESProvider(ses.NewFromConfig(cfg), c.Config.SES.FromAddress))
		return notifyx.NewNotifier(client, c.Config.SES.FromAddress)
	}

	client := notifx.NewClient(notifxconsole.NewConsoleProvider())
	return notifyx.NewNotifier(client, c.Config.SES.FromAddress)
}

func (c *Container) Cleanup() {
	logx.Info("cleaning up resources")

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.Errorf("error closing database: %v", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.Errorf("error closing redis: %v", err)
		}
	}

	logx.Info("cleanup complete")
}
