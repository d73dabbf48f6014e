package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"apishield.io/internal/chain"
	"apishield.io/internal/claims"
	"apishield.io/internal/config"
	"apishield.io/internal/httpapi"
	"apishield.io/internal/nonce"
	"apishield.io/internal/obs"
	"apishield.io/internal/oracle"
	"apishield.io/internal/payment"
	"apishield.io/internal/policy"
	"apishield.io/internal/store/jsonfile"
	"apishield.io/internal/store/pg"
	"apishield.io/internal/stream"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

// Coverage limits are configured in whole tokens; the books run on
// micro units.
const microUnitsPerToken = 1_000_000

func main() {
	log.SetFlags(0)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		policyStore policy.Store
		claimStore  claims.Store
		nonces      nonce.Ledger
		ready       httpapi.ReadyProbe
		closeStore  = func() {}
	)
	switch {
	case cfg.PostgresDSN != "":
		db, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		policyStore = db.Policies()
		claimStore = db.Claims()
		nonces = db.Nonces()
		ready = httpapi.ReadyProbe{Pinger: db}
		closeStore = func() { _ = db.Close() }
	case cfg.Profile == config.Testing:
		policyStore = policy.NewInMemory()
		claimStore = claims.NewInMemory()
		nonces = nonce.NewInMemory()
	default:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			log.Fatalf("data dir: %v", err)
		}
		st, err := jsonfile.Open(filepath.Join(cfg.DataDir, "records.json"))
		if err != nil {
			log.Fatalf("open json store: %v", err)
		}
		policyStore = st.Policies()
		claimStore = st.Claims()
		fl, err := nonce.OpenFile(filepath.Join(cfg.DataDir, "nonces.json"))
		if err != nil {
			log.Fatalf("open nonce ledger: %v", err)
		}
		nonces = fl
	}
	defer closeStore()

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		nonces = nonce.NewRedis(rdb, cfg.NonceRetention)
	}

	var scheme payment.Scheme
	switch cfg.AssetFamily {
	case "solana":
		scheme = payment.NewSolanaScheme()
	default:
		scheme = payment.NewEVMScheme(cfg.ChainID)
	}

	var verifier payment.Verifier
	switch {
	case cfg.VerifierMode == config.VerifierFull && cfg.BackendAddress != "":
		verifier, err = payment.NewFullVerifier(scheme, nonces, cfg.BackendAddress, cfg.SettlementAsset)
		if err != nil {
			log.Fatalf("payment verifier: %v", err)
		}
	case cfg.Profile == config.Production:
		log.Fatalf("production requires the full verifier with a backend address")
	default:
		obs.Event("warn", "running with the simple payment verifier", nil)
		verifier = payment.NewSimpleVerifier(cfg.BackendAddress, cfg.SettlementAsset)
	}

	var transactor chain.Transactor
	if cfg.SignerKeyPath != "" {
		signer, err := chain.NewSigner(cfg.SignerKeyPath, cfg.ReserveUnits, cfg.FeeUnits)
		if err != nil {
			log.Fatalf("transactor: %v", err)
		}
		transactor = signer
	} else {
		if cfg.Profile == config.Production {
			log.Fatalf("production requires a signer key")
		}
		transactor = chain.NewSimulated(cfg.ReserveUnits, cfg.FeeUnits)
	}

	hub := stream.New()
	policies := policy.NewService(policyStore, cfg.PremiumRate,
		int64(cfg.MaxCoverage*microUnitsPerToken), cfg.PolicyDuration)
	coordinator := claims.NewCoordinator(claims.CoordinatorConfig{
		Claims:        claimStore,
		Policies:      policyStore,
		Oracle:        oracle.NewProbe(cfg.OracleTimeout),
		Chain:         transactor,
		Events:        hub,
		OracleTimeout: cfg.OracleTimeout,
		AsyncWorkers:  cfg.AsyncWorkers,
	})

	api := httpapi.New(httpapi.Config{
		Version:        version,
		Ready:          ready,
		Policies:       policies,
		Claims:         coordinator,
		Verifier:       verifier,
		Chain:          transactor,
		Nonces:         nonces,
		Hub:            hub,
		PayTo:          cfg.BackendAddress,
		Asset:          cfg.SettlementAsset,
		PaymentMaxAge:  cfg.PaymentMaxAge,
		NonceRetention: cfg.NonceRetention,
		OperatorAuth:   cfg.OperatorJWTSecret != "",
	})

	handler := api.Handler()
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	if cfg.RateLimitEnabled {
		handler = httpapi.RateLimit(handler, cfg.RateBurst, cfg.RatePerSecond)
	}
	handler = httpapi.CORS(handler)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.LoggingJSON(handler)
	handler = httpapi.RequestID(handler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting apishield-api %s (%s) on %s", version, cfg.Profile, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	grpcSrv := httpapi.NewGRPCServer(cfg.GRPCAddr, ready)
	go func() {
		if err := grpcSrv.Serve(); err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
	}()

	bgCtx, bgCancel := context.WithCancel(context.Background())
	go sweepLoop(bgCtx, policies, nonces, cfg.NonceRetention)

	obs.SetReady(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)
	bgCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	grpcSrv.GracefulStop()
	coordinator.Close(ctx)
	log.Println("Stopped")
}

// sweepLoop expires due policies and collects stale nonces until ctx is
// canceled.
func sweepLoop(ctx context.Context, policies *policy.Service, nonces nonce.Ledger, retention time.Duration) {
	expiry := time.NewTicker(time.Minute)
	gc := time.NewTicker(10 * time.Minute)
	defer expiry.Stop()
	defer gc.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-expiry.C:
			if _, err := policies.ExpireDue(ctx); err != nil {
				obs.Event("error", "policy expiry sweep", map[string]any{"err": err.Error()})
			}
		case <-gc.C:
			if _, err := nonces.GC(ctx, retention); err != nil {
				obs.Event("error", "nonce sweep", map[string]any{"err": err.Error()})
			}
		}
	}
}
