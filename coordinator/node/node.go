// Package node is the main process which handles the lifecycle of the
// runtime services in a coordinator process, gracefully shutting everything
// down upon close.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/zkmpc/maestro/cmd/flags"
	"github.com/zkmpc/maestro/config/params"
	"github.com/zkmpc/maestro/coordinator/auth"
	"github.com/zkmpc/maestro/coordinator/ceremony"
	"github.com/zkmpc/maestro/coordinator/db/firestoredb"
	"github.com/zkmpc/maestro/coordinator/db/iface"
	"github.com/zkmpc/maestro/coordinator/db/kv"
	"github.com/zkmpc/maestro/coordinator/participant"
	"github.com/zkmpc/maestro/coordinator/queue"
	"github.com/zkmpc/maestro/coordinator/rpc"
	"github.com/zkmpc/maestro/coordinator/storage"
	"github.com/zkmpc/maestro/coordinator/storage/s3"
	"github.com/zkmpc/maestro/coordinator/timeout"
	"github.com/zkmpc/maestro/coordinator/verify"
	"github.com/zkmpc/maestro/monitoring/prometheus"
	"github.com/zkmpc/maestro/monitoring/tracing"
	"github.com/zkmpc/maestro/mpc/gnark"
	"github.com/zkmpc/maestro/runtime"
	"github.com/zkmpc/maestro/runtime/version"
)

var log = logrus.WithField("prefix", "node")

// Coordinator defines an instance of the ceremony coordinator that manages
// the entire lifecycle of services attached to it.
type Coordinator struct {
	cliCtx        *cli.Context
	ctx           context.Context
	cancel        context.CancelFunc
	services      *runtime.ServiceRegistry // Lifecycle and service store.
	lock          sync.RWMutex
	stop          chan struct{} // Channel to wait for termination notifications.
	db            iface.Database
	store         storage.Store
	authenticator *auth.Authenticator
}

// New creates a new coordinator node: it opens the record store and object
// store, builds the authenticator, and registers every runtime service.
// Nothing listens until Start.
func New(cliCtx *cli.Context) (*Coordinator, error) {
	if err := tracing.Setup(
		"coordinator", // service name
		cliCtx.String(flags.TracingProcessNameFlag.Name),
		cliCtx.String(flags.TracingEndpointFlag.Name),
		cliCtx.Float64(flags.TraceSampleFractionFlag.Name),
		cliCtx.Bool(flags.EnableTracingFlag.Name),
	); err != nil {
		return nil, err
	}

	verbosity := cliCtx.String(flags.VerbosityFlag.Name)
	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)

	if cliCtx.IsSet(flags.CeremonyConfigFileFlag.Name) {
		params.LoadCeremonyConfigFile(cliCtx.String(flags.CeremonyConfigFileFlag.Name))
	} else {
		params.ApplyEnvOverrides()
	}

	registry := runtime.NewServiceRegistry()
	ctx, cancel := context.WithCancel(cliCtx.Context)
	coordinator := &Coordinator{
		cliCtx:   cliCtx,
		ctx:      ctx,
		cancel:   cancel,
		services: registry,
		stop:     make(chan struct{}),
	}

	if err := coordinator.startDB(cliCtx); err != nil {
		return nil, err
	}
	if err := coordinator.startStorage(cliCtx); err != nil {
		return nil, err
	}
	if err := coordinator.startAuthenticator(cliCtx); err != nil {
		return nil, err
	}

	if err := coordinator.registerLifecycleService(); err != nil {
		return nil, err
	}
	if err := coordinator.registerTimeoutService(); err != nil {
		return nil, err
	}
	if err := coordinator.registerQueueService(); err != nil {
		return nil, err
	}
	if err := coordinator.registerVerifyService(cliCtx); err != nil {
		return nil, err
	}
	if err := coordinator.registerAPIService(cliCtx); err != nil {
		return nil, err
	}
	if !cliCtx.Bool(flags.DisableMonitoringFlag.Name) {
		if err := coordinator.registerPrometheusService(cliCtx); err != nil {
			return nil, err
		}
	}

	return coordinator, nil
}

// Start every service attached to the coordinator node.
func (c *Coordinator) Start() {
	c.lock.Lock()

	log.WithFields(logrus.Fields{
		"version": version.GetVersion(),
	}).Info("Starting coordinator node")

	c.services.StartAll()

	stop := c.stop
	c.lock.Unlock()

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go c.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic.")
			}
		}
		panic("Panic closing the coordinator node")
	}()

	// Wait for stop channel to be closed.
	<-stop
}

// Close handles graceful shutdown of the system.
func (c *Coordinator) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()

	log.Info("Stopping coordinator node")
	c.services.StopAll()
	if err := c.db.Close(); err != nil {
		log.Errorf("Failed to close database: %v", err)
	}
	c.cancel()
	close(c.stop)
}

func (c *Coordinator) startDB(cliCtx *cli.Context) error {
	backend := strings.ToLower(cliCtx.String(flags.DatabaseBackend.Name))
	switch backend {
	case "kv":
		dataDir := cliCtx.String(flags.DataDirFlag.Name)
		if dataDir == "" {
			return errors.New("could not determine your system's HOME path, please specify a --datadir")
		}
		clearDB := cliCtx.Bool(flags.ClearDB.Name)
		forceClearDB := cliCtx.Bool(flags.ForceClearDB.Name)

		log.WithField("databasePath", dataDir).Info("Checking DB")

		d, err := kv.NewKVStore(dataDir, &kv.Config{})
		if err != nil {
			return errors.Wrapf(err, "could not create database at %s", dataDir)
		}
		clearDBConfirmed := false
		if clearDB && !forceClearDB {
			actionText := "This will delete the ceremony records stored in your data directory. " +
				"Artifacts in the object store will not be removed - do you want to proceed? (y/N)"
			deniedText := "Database will not be deleted. No changes have been made."
			clearDBConfirmed, err = flags.ConfirmAction(actionText, deniedText)
			if err != nil {
				return err
			}
		}
		if clearDBConfirmed || forceClearDB {
			log.Warning("Removing database")
			if err := d.Close(); err != nil {
				return errors.Wrap(err, "could not close db prior to clearing")
			}
			if err := d.ClearDB(); err != nil {
				return errors.Wrap(err, "could not clear database")
			}
			d, err = kv.NewKVStore(dataDir, &kv.Config{})
			if err != nil {
				return errors.Wrap(err, "could not create new database")
			}
		}
		c.db = d
	case "firestore":
		project := cliCtx.String(flags.FirestoreProject.Name)
		if project == "" {
			return errors.New("--firestore-project is required when --db-backend=firestore")
		}
		d, err := firestoredb.NewStore(c.ctx, project)
		if err != nil {
			return errors.Wrapf(err, "could not connect to firestore project %s", project)
		}
		c.db = d
	default:
		return fmt.Errorf("unknown db backend %q", backend)
	}
	return nil
}

func (c *Coordinator) startStorage(cliCtx *cli.Context) error {
	store, err := s3.NewStore(c.ctx, &s3.Config{
		Region:    cliCtx.String(flags.StorageRegion.Name),
		Endpoint:  cliCtx.String(flags.StorageEndpoint.Name),
		AccessKey: cliCtx.String(flags.StorageAccessKey.Name),
		SecretKey: cliCtx.String(flags.StorageSecretKey.Name),
	})
	if err != nil {
		return errors.Wrap(err, "could not initialize object store")
	}
	c.store = store
	return nil
}

func (c *Coordinator) startAuthenticator(cliCtx *cli.Context) error {
	var verifier auth.IdentityVerifier
	provider := strings.ToLower(cliCtx.String(flags.IdentityProvider.Name))
	switch provider {
	case "github":
		verifier = auth.NewGitHubVerifier()
	case "firebase":
		project := cliCtx.String(flags.FirebaseProject.Name)
		if project == "" {
			return errors.New("--firebase-project is required when --identity-provider=firebase")
		}
		fv, err := auth.NewFirebaseVerifier(c.ctx, project)
		if err != nil {
			return errors.Wrap(err, "could not initialize firebase verifier")
		}
		verifier = fv
	default:
		return fmt.Errorf("unknown identity provider %q", provider)
	}

	secretPath := cliCtx.String(flags.SessionSecretPath.Name)
	if secretPath == "" {
		secretPath = filepath.Join(cliCtx.String(flags.DataDirFlag.Name), "session.secret")
	}
	authenticator, err := auth.New(c.ctx, &auth.Config{
		SecretPath:   secretPath,
		Coordinators: cliCtx.StringSlice(flags.Coordinators.Name),
		Verifier:     verifier,
	})
	if err != nil {
		return errors.Wrap(err, "could not initialize authenticator")
	}
	c.authenticator = authenticator
	return nil
}

func (c *Coordinator) registerLifecycleService() error {
	svc := ceremony.New(c.ctx, &ceremony.Config{
		Database: c.db,
	})
	return c.services.RegisterService(svc)
}

func (c *Coordinator) registerTimeoutService() error {
	svc := timeout.New(c.ctx, &timeout.Config{
		Database: c.db,
	})
	return c.services.RegisterService(svc)
}

func (c *Coordinator) registerQueueService() error {
	svc := queue.New(c.ctx, &queue.Config{
		Database: c.db,
	})
	return c.services.RegisterService(svc)
}

func (c *Coordinator) registerVerifyService(cliCtx *cli.Context) error {
	svc := verify.New(c.ctx, &verify.Config{
		Database:   c.db,
		Store:      c.store,
		Engine:     gnark.NewEngine(),
		ScratchDir: cliCtx.String(flags.ScratchDir.Name),
		Workers:    params.CeremonyConfig().VerificationWorkers,
	})
	return c.services.RegisterService(svc)
}

func (c *Coordinator) registerAPIService(cliCtx *cli.Context) error {
	var verifier *verify.Service
	if err := c.services.FetchService(&verifier); err != nil {
		return err
	}
	svc := rpc.New(c.ctx, &rpc.Config{
		Host:              cliCtx.String(flags.HTTPHost.Name),
		Port:              cliCtx.Int(flags.HTTPPort.Name),
		AllowedOrigins:    cliCtx.StringSlice(flags.AllowedOrigins.Name),
		RequestsPerSecond: cliCtx.Float64(flags.APIRequestsPerSecond.Name),
		Authenticator:     c.authenticator,
		Database:          c.db,
		Store:             c.store,
		Participants:      participant.NewManager(c.db),
		Ceremonies:        ceremony.NewManager(c.db, c.store),
		Verifier:          verifier,
	})
	return c.services.RegisterService(svc)
}

func (c *Coordinator) registerPrometheusService(cliCtx *cli.Context) error {
	svc := prometheus.NewService(
		fmt.Sprintf("%s:%d", cliCtx.String(flags.MonitoringHostFlag.Name), cliCtx.Int(flags.MonitoringPortFlag.Name)),
		c.services,
	)
	logrus.AddHook(prometheus.NewLogrusCollector())
	return c.services.RegisterService(svc)
}
