package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/airbusgeo/ewoc-classif/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Queues of the worker: it pulls on jobs and publishes on results
var queues = []string{"ewoc-classif-jobs", "ewoc-classif-results"}

func main() {
	ctx := context.Background()

	if os.Getenv("PUBSUB_EMULATOR_HOST") == "" {
		os.Setenv("PUBSUB_EMULATOR_HOST", "localhost:8085")
	}

	projectID := flag.String("project", "ewoc-emulator", "emulator project")
	jobFile := flag.String("publish", "", "json file of a job to publish on "+queues[0]+" (optional)")
	flag.Parse()

	log.Print("New client for project " + *projectID)
	client, err := pubsub.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatalf("pubsub.NewClient: %v", err)
	}
	defer client.Close()

	for _, queue := range queues {
		log.Print("Create Topic : " + queue)
		if _, err = client.CreateTopic(ctx, queue); err != nil && status.Code(err) != codes.AlreadyExists {
			log.Fatalf("pubsub.CreateTopic: %v", err)
		}
		log.Print("Create Subscription : " + queue)
		if _, err = client.CreateSubscription(ctx, queue, pubsub.SubscriptionConfig{
			Topic:       client.Topic(queue),
			AckDeadline: 10 * time.Second,
		}); err != nil && status.Code(err) != codes.AlreadyExists {
			log.Fatalf("CreateSubscription: %v", err)
		}
	}

	if *jobFile != "" {
		b, err := os.ReadFile(*jobFile)
		if err != nil {
			log.Fatalf("ReadFile: %v", err)
		}
		var job common.BlockJob
		if err := json.Unmarshal(b, &job); err != nil {
			log.Fatalf("invalid job: %v", err)
		}
		topic := client.Topic(queues[0])
		defer topic.Stop()
		id, err := topic.Publish(ctx, &pubsub.Message{Data: b}).Get(ctx)
		if err != nil {
			log.Fatalf("Publish: %v", err)
		}
		log.Printf("Job %s (%s) published: %s", job.ID, job.Tile, id)
	}

	log.Print("Done!")
}
