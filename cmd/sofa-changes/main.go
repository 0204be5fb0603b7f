// Command sofa-changes is an AWS Lambda function that reads the DynamoDB
// stream of a document table and logs each document change as JSON.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jacentio/sofa/stream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	handler := stream.NewHandler(logChange(logger), logger)
	lambda.Start(handler.HandleChanges)
}

// logChange returns a sink that records each change at info level.
func logChange(logger *slog.Logger) stream.Sink {
	return func(_ context.Context, c stream.Change) error {
		logger.Info("document changed",
			"docID", c.ID,
			"rev", c.Rev,
			"kind", c.Kind,
			"seq", c.Seq,
			"at", c.At,
		)
		return nil
	}
}
