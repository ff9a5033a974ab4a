package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/airbusgeo/ewoc-classif/classif"
	"github.com/airbusgeo/ewoc-classif/common"
	"github.com/airbusgeo/ewoc-classif/pipeline"
	"github.com/airbusgeo/ewoc-classif/service"
	"github.com/airbusgeo/ewoc-classif/service/log"
	"github.com/airbusgeo/geocube/interface/messaging"
	"github.com/airbusgeo/geocube/interface/messaging/pgqueue"
	"github.com/airbusgeo/geocube/interface/messaging/pubsub"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type config struct {
	Setup pipeline.Setup
	Port  string

	PgqDbConnection string
	PsProject       string
	JobQueue        string
	EventQueue      string
	MaxTries        int
}

func newAppConfig() (*config, error) {
	config := config{}
	flag.StringVar(&config.Setup.TempDir, "workdir", "", "parent of the working directories (default: system temporary directory)")
	flag.StringVar(&config.Setup.DBConnection, "db-connection", "", "database connection of the block ledger (optional)")
	flag.StringVar(&config.Port, "port", "9000", "port of the status endpoint")

	// Messaging
	flag.StringVar(&config.PgqDbConnection, "pgq-connection", "", "enable pgq messaging system with a connection to the database")
	flag.StringVar(&config.PsProject, "ps-project", "", "pubsub subscription project (gcp only/not required in local usage)")
	flag.StringVar(&config.JobQueue, "job-queue", "", "name of the queue for classification jobs (pgqueue or pubsub subscription)")
	flag.StringVar(&config.EventQueue, "event-queue", "", "name of the queue for job results (pgqueue or pubsub topic)")
	flag.IntVar(&config.MaxTries, "max-tries", 5, "max number of tries of a job (must be less than the configured number of tries of the queue)")
	dockerEnvs := config.Setup.Docker.SetFlags()
	verbose := flag.Bool("v", false, "set log level to info")
	veryVerbose := flag.Bool("vv", false, "set log level to debug")
	flag.Parse()

	log.SetVerbosity(*verbose, *veryVerbose)
	if *dockerEnvs != "" {
		config.Setup.Docker.Envs = strings.Split(*dockerEnvs, ",")
	}
	if config.JobQueue == "" {
		return nil, fmt.Errorf("missing job-queue flag")
	}
	if config.EventQueue == "" {
		return nil, fmt.Errorf("missing event-queue flag")
	}
	return &config, nil
}

// jobState is the job being processed, exposed by the status endpoint
type jobState struct {
	mu      sync.Mutex
	job     *common.BlockJob
	started time.Time
}

func (s *jobState) set(job *common.BlockJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job, s.started = job, time.Now()
}

func (s *jobState) terminationCost(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	terminationCost := 0
	if s.job != nil {
		terminationCost = int(time.Since(s.started).Seconds() * 1000) //milliseconds since job was leased
	}
	fmt.Fprintf(w, "%d", terminationCost)
}

func (s *jobState) status(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Job     *common.BlockJob `json:"job"`
		Started *time.Time       `json:"started,omitempty"`
	}{Job: s.job, Started: func() *time.Time {
		if s.job == nil {
			return nil
		}
		return &s.started
	}()})
}

func main() {
	ctx := context.Background()
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Logger(ctx).Warn("unable to load .env", zap.Error(err))
	}
	if err := run(ctx); err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}

	var eventPublisher messaging.Publisher
	var jobConsumer messaging.Consumer
	var logMessaging string
	{
		if config.PgqDbConnection != "" {
			db, w, err := pgqueue.SqlConnect(ctx, config.PgqDbConnection)
			if err != nil {
				return fmt.Errorf("MessagingService: %w", err)
			}
			logMessaging += fmt.Sprintf(" pulling on pgqueue:%s", config.JobQueue)
			consumer := pgqueue.NewConsumer(db, config.JobQueue)
			defer consumer.Stop()
			jobConsumer = consumer
			logMessaging += fmt.Sprintf(" pushing on pgqueue:%s", config.EventQueue)
			eventPublisher = pgqueue.NewPublisher(w, config.EventQueue, pgqueue.WithMaxRetries(5))
		} else if config.PsProject != "" {
			logMessaging += fmt.Sprintf(" pulling on %s/%s", config.PsProject, config.JobQueue)
			if jobConsumer, err = pubsub.NewConsumer(config.PsProject, config.JobQueue); err != nil {
				return fmt.Errorf("pubsub.NewConsumer: %w", err)
			}
			logMessaging += fmt.Sprintf(" pushing on %s/%s", config.PsProject, config.EventQueue)
			eventTopic, err := pubsub.NewPublisher(ctx, config.PsProject, config.EventQueue, pubsub.WithMaxRetries(5))
			if err != nil {
				return fmt.Errorf("messaging.NewPublisher: %w", err)
			}
			defer eventTopic.Stop()
			eventPublisher = eventTopic
		}
	}
	if jobConsumer == nil || eventPublisher == nil {
		return fmt.Errorf("missing configuration for messaging: pgq-connection or ps-project")
	}

	settings, err := classif.SettingsFromEnv()
	if err != nil {
		return err
	}
	p, release, err := pipeline.New(ctx, settings, config.Setup)
	defer release()
	if err != nil {
		return err
	}

	state := &jobState{}
	go func() {
		r := mux.NewRouter()
		r.HandleFunc("/termination_cost", state.terminationCost).Methods("GET")
		r.HandleFunc("/status", state.status).Methods("GET")
		if ledger, ok := p.LedgerBackend(); ok {
			(&pipeline.LedgerHandler{Ledger: ledger}).Routes(r)
		}
		srv := &http.Server{
			Addr:    ":" + config.Port,
			Handler: handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(os.Stdout, r)),
		}
		if err := srv.ListenAndServe(); err != nil {
			log.Logger(ctx).Error("status endpoint", zap.Error(err))
		}
	}()

	log.Logger(ctx).Debug("worker starts" + logMessaging)
	for {
		err := jobConsumer.Pull(ctx, func(ctx context.Context, msg *messaging.Message) (err error) {
			ctx = log.With(ctx, "msgID", msg.ID)
			log.Logger(log.With(ctx, "body", string(msg.Data))).Sugar().Debugf("message %s try %d", msg.ID, msg.TryCount)
			status := common.StatusRETRY
			job := common.BlockJob{}
			message := ""
			if err := json.Unmarshal(msg.Data, &job); err != nil {
				return fmt.Errorf("invalid payload: %w", err)
			} else if job.ID == "" {
				return fmt.Errorf("invalid payload: missing id")
			}
			state.set(&job)
			defer state.set(nil)

			defer func() {
				if err != nil && service.Temporary(err) {
					log.Logger(ctx).Warn("job temporary failure", zap.Error(err))
					return
				}
				if err != nil {
					log.Logger(ctx).Warn("job failed", zap.Error(err))
					message = err.Error()
				}
				res := common.Result{
					Type:    job.ResultType(),
					ID:      job.ID,
					Status:  status,
					Message: message,
				}
				resb, e := json.Marshal(res)
				if e != nil {
					err = service.MakeTemporary(fmt.Errorf("marshal: %w", e))
					return
				}
				if e := service.Retriable(ctx, func() error { return eventPublisher.Publish(ctx, resb) }, time.Second, 3); e != nil {
					err = service.MakeTemporary(fmt.Errorf("failed to enqueue result: %w", e))
				}
			}()
			if msg.TryCount > config.MaxTries {
				status = common.StatusFAILED
				return fmt.Errorf("too many retries")
			}

			if err = p.RunJob(ctx, job); err != nil {
				if msg.TryCount >= config.MaxTries {
					status = common.StatusFAILED
					return service.MakeFatal(fmt.Errorf("too many retries: %v", err))
				}
				if service.Fatal(err) {
					status = common.StatusFAILED
				}
				return err
			}
			log.Logger(ctx).Sugar().Infof("successfully processed job %s (%s)", job.ID, job.Tile)
			status = common.StatusDONE
			return
		})
		if err != nil {
			return fmt.Errorf("jobConsumer.Pull: %w", err)
		}
	}
}
