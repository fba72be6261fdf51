package server

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"leader-elector/events"
	"leader-elector/leaderelection"
	"leader-elector/leaderelection/resourcelock"
	"leader-elector/store"
	"leader-elector/utils"
)

type server struct {
	// API endpoints exposed via this http server
	http *http.Server
	// cached config
	config *utils.Config

	elector  *leaderelection.LeaderElector
	watchdog *leaderelection.HealthzAdaptor
	gatherer prometheus.Gatherer

	// elasticsearch client and event shipper, nil when no cluster is configured
	esc        *elasticsearch.Client
	esRecorder *events.ElasticsearchRecorder

	// closes the connection to the backing store
	closeStore func() error
	// closed once the elector stopped and the store is closed
	done chan struct{}
}

// NewServer connects to the configured store and prepares the elector and the http endpoints. Metrics are
// registered on reg.
func NewServer(ctx context.Context, conf *utils.Config, reg *prometheus.Registry) (*server, error) {
	client, closeStore, err := newStoreClient(ctx, &conf.Store)
	if err != nil {
		return nil, err
	}
	s, err := newServer(conf, client, reg)
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	s.closeStore = closeStore
	return s, nil
}

func newServer(conf *utils.Config, client store.Client, reg *prometheus.Registry) (*server, error) {
	s := &server{
		config:     conf,
		gatherer:   reg,
		closeStore: func() error { return nil },
		done:       make(chan struct{}),
	}

	lock, err := resourcelock.New(conf.Lock.Type, conf.Lock.Namespace, conf.Lock.Name, client, conf.Identity)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create the resource lock")
	}

	recorder := events.NewLogRecorder()
	if len(conf.ElasticConfig.Endpoints) > 0 {
		if err = s.connectElasticsearch(); err != nil {
			return nil, err
		}
		s.esRecorder = events.NewElasticsearchRecorder(s.esc, conf.ElasticConfig.Index, time.Duration(conf.HttpRequestTimeout)*time.Second)
		recorder = events.Multi(recorder, s.esRecorder)
	}

	metrics, err := leaderelection.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	s.watchdog = leaderelection.NewLeaderHealthzAdaptor(conf.HealthzTimeout)
	s.elector, err = leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   conf.LeaseDuration,
		RenewDeadline:   conf.RenewDeadline,
		RetryPeriod:     conf.RetryPeriod,
		ReleaseOnCancel: conf.ReleaseOnCancel,
		Name:            conf.Lock.Name,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: s.lead,
			OnStoppedLeading: func() {
				log.Info().Str("identity", conf.Identity).Msg("stopped leading")
			},
			OnNewLeader: func(identity string) {
				log.Info().Str("leader", identity).Bool("self", identity == conf.Identity).Msg("leader changed")
			},
		},
		EventRecorder: recorder,
		WatchDog:      s.watchdog,
		Metrics:       metrics,
	})
	if err != nil {
		return nil, errors.Wrap(err, "invalid leader election config")
	}

	router := mux.NewRouter()

	getRouter := router.Methods(http.MethodGet).Subrouter()
	getRouter.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong\n"))
	})
	getRouter.HandleFunc("/healthz", s.healthz)
	getRouter.HandleFunc("/leader", s.leader)
	getRouter.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if s.esc != nil {
		getRouter.HandleFunc("/events", s.fetchEventsPaginated)
	}

	s.http = &http.Server{
		Addr:         net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port)),
		Handler:      router,
		ReadTimeout:  time.Duration(conf.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(conf.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(conf.IdleTimeout) * time.Second,
	}
	return s, nil
}

// connectElasticsearch sets up a client to the elasticsearch cluster and checks it by querying the
// cluster information.
func (s *server) connectElasticsearch() error {
	conf := s.config
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: conf.ElasticConfig.Endpoints,
		Username:  conf.ElasticConfig.Username,
		Password:  conf.ElasticConfig.Password,
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: time.Second,
			DialContext:           (&net.Dialer{Timeout: time.Duration(conf.HttpRequestTimeout) * time.Second}).DialContext,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to initialize client to elasticsearch cluster")
	}

	res, err := es.Info()
	if err != nil {
		return errors.Wrap(err, "unable to query elasticsearch cluster information")
	}
	defer res.Body.Close()
	if res.IsError() {
		return errors.Errorf("elasticsearch cluster information query failed: %s", res.Status())
	}
	log.Debug().Msg(res.String())
	s.esc = es
	return nil
}

// RunAsync campaigns for leadership and serves the http endpoints until ctx is done. The returned channel
// receives the first failure.
func (s *server) RunAsync(ctx context.Context) chan error {
	firstErr := make(chan error, 2)

	// the event shipper outlives the election so the final "stopped leading" event is still indexed
	shipCtx, stopShipping := context.WithCancel(context.Background())
	shipped := make(chan struct{})
	if s.esRecorder != nil {
		go func() {
			defer close(shipped)
			s.esRecorder.Run(shipCtx)
		}()
	} else {
		close(shipped)
	}

	// run the election
	go func(ctx context.Context) {
		defer close(s.done)
		s.elector.Run(ctx)
		if err := s.closeStore(); err != nil {
			log.Error().Err(err).Msg("failed to close the store connection")
		}
		stopShipping()
		<-shipped
	}(ctx)

	// run the http server
	go func(ctx context.Context) {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			firstErr <- err
		}
	}(ctx)

	go func(ctx context.Context) {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.config.WriteTimeout)*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown http server")
		}
	}(ctx)

	return firstErr
}

// Done is closed after RunAsync's election stopped, which includes releasing the lease and flushing the
// queued events.
func (s *server) Done() <-chan struct{} {
	return s.done
}
