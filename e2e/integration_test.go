//go:build e2e

// Package e2e contains end-to-end integration tests against a live CouchDB
// and, when an AWS profile is configured, real DynamoDB tables.
// Run with: go test -tags=e2e -v ./e2e/...
//
// CouchDB is configured through COUCH_URL, COUCH_USER and COUCH_PWD.
// Set SOFA_E2E_AWS_PROFILE to include DynamoDB.
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-kivik/kivik/v4"
	"github.com/go-kivik/kivik/v4/couchdb"
	"github.com/google/uuid"

	"github.com/jacentio/sofa/backend/couch"
	"github.com/jacentio/sofa/backend/dynamo"
	"github.com/jacentio/sofa/store"
	"github.com/jacentio/sofa/store/storetest"
)

// Names are unique per test run to avoid conflicts
const dbPrefix = "sofa_e2e"

var (
	testID string

	couchConfig store.Config
	couchAdmin  *kivik.Client
	couchStore  *store.Store

	dynamoTable   string
	ddbClient     *dynamodb.Client
	dynamoStore   *store.Store
	dynamoBackend *dynamo.Backend
)

// Article is typed document content.
type Article struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
	Draft bool     `json:"draft"`
}

func TestMain(m *testing.M) {
	testID = uuid.New().String()[:8]
	ctx := context.Background()

	settings := map[string]string{store.SettingDatabase: fmt.Sprintf("%s_%s", dbPrefix, testID)}
	for _, key := range []string{store.SettingUser, store.SettingPassword, store.SettingURL} {
		settings[key] = os.Getenv(key)
	}
	cfg, err := store.ConfigFromSettings(settings)
	if err != nil {
		fmt.Printf("Invalid CouchDB settings: %v\n", err)
		os.Exit(1)
	}
	couchConfig = cfg
	fmt.Printf("Test ID: %s\n", testID)
	fmt.Printf("CouchDB database: %s at %s\n", cfg.Database, cfg.URL)

	if err := createCouchDatabase(ctx); err != nil {
		fmt.Printf("Failed to create CouchDB database: %v\n", err)
		os.Exit(1)
	}
	couchStore, err = store.Open(ctx, couch.New(), couchConfig)
	if err != nil {
		fmt.Printf("Failed to open CouchDB store: %v\n", err)
		os.Exit(1)
	}

	if profile := os.Getenv("SOFA_E2E_AWS_PROFILE"); profile != "" {
		if err := setupDynamo(ctx, profile); err != nil {
			fmt.Printf("Failed to set up DynamoDB: %v\n", err)
			os.Exit(1)
		}
	}

	code := m.Run()

	couchStore.Close()
	if err := couchAdmin.DestroyDB(ctx, couchConfig.Database); err != nil {
		fmt.Printf("Warning: failed to destroy database %s: %v\n", couchConfig.Database, err)
	}
	if ddbClient != nil {
		if _, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
			TableName: aws.String(dynamoTable),
		}); err != nil {
			fmt.Printf("Warning: failed to delete table %s: %v\n", dynamoTable, err)
		}
	}

	os.Exit(code)
}

func createCouchDatabase(ctx context.Context) error {
	var opts []kivik.Option
	if couchConfig.User != "" {
		opts = append(opts, couchdb.BasicAuth(couchConfig.User, couchConfig.Password))
	}
	client, err := kivik.New("couch", couchConfig.URL, opts...)
	if err != nil {
		return err
	}
	couchAdmin = client
	return client.CreateDB(ctx, couchConfig.Database)
}

func setupDynamo(ctx context.Context, profile string) error {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithSharedConfigProfile(profile))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	ddbClient = dynamodb.NewFromConfig(awsCfg)
	dynamoTable = fmt.Sprintf("%s-%s-docs", strings.ReplaceAll(dbPrefix, "_", "-"), testID)
	fmt.Printf("DynamoDB table: %s\n", dynamoTable)

	_, err = ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(dynamoTable),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(dynamo.AttrID), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(dynamo.AttrID), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", dynamoTable, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(ddbClient)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(dynamoTable),
	}, 2*time.Minute); err != nil {
		return fmt.Errorf("wait for table %s: %w", dynamoTable, err)
	}

	_, err = ddbClient.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(dynamoTable),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String(dynamo.AttrTTL),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("enable ttl on %s: %w", dynamoTable, err)
	}

	dynamoBackend = dynamo.New(ddbClient, dynamo.DefaultConfig())
	dynamoStore, err = store.Open(ctx, dynamoBackend, store.Config{Database: dynamoTable})
	return err
}

// stores returns every configured store by name.
func stores() map[string]*store.Store {
	out := map[string]*store.Store{"couch": couchStore}
	if dynamoStore != nil {
		out["dynamo"] = dynamoStore
	}
	return out
}

func newID() string {
	return "e2e-" + uuid.New().String()
}

// --- Backend conformance ---

func TestCouchBackend(t *testing.T) {
	storetest.RunBackend(t, couch.New(), couchConfig)
}

func TestDynamoBackend(t *testing.T) {
	if dynamoBackend == nil {
		t.Skip("SOFA_E2E_AWS_PROFILE not set")
	}
	storetest.RunBackend(t, dynamoBackend, store.Config{Database: dynamoTable})
}

// --- Store operations ---

func TestOpen_DatabaseNotFound(t *testing.T) {
	cfg := couchConfig
	cfg.Database = fmt.Sprintf("%s_missing_%s", dbPrefix, testID)
	_, err := store.Open(context.Background(), couch.New(), cfg)
	if !errors.Is(err, store.ErrDatabaseNotFound) {
		t.Fatalf("expected ErrDatabaseNotFound, got %v", err)
	}
}

func TestOpen_BadCredentials(t *testing.T) {
	if couchConfig.User == "" {
		t.Skip("COUCH_USER not set")
	}
	cfg := couchConfig
	cfg.Password = "wrong-" + testID
	_, err := store.Open(context.Background(), couch.New(), cfg)
	if !errors.Is(err, store.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestPutThenGet(t *testing.T) {
	for name, s := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := newID()
			article := Article{Title: "Hello", Tags: []string{"a", "b"}, Draft: true}

			doc, err := s.Put(ctx, article, store.PutOptions{ID: id})
			if err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			if !strings.HasPrefix(doc.Rev(), "1-") {
				t.Errorf("expected first revision, got %q", doc.Rev())
			}

			got, err := s.Get(ctx, id)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			content := got.Snapshot()
			if content["title"] != "Hello" || content["draft"] != true {
				t.Errorf("unexpected content %v", content)
			}
			if content[store.FieldID] != id || content[store.FieldRev] != doc.Rev() {
				t.Errorf("expected _id %q and _rev %q, got %v", id, doc.Rev(), content)
			}
		})
	}
}

func TestPut_AlreadyExists(t *testing.T) {
	for name, s := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := newID()
			if _, err := s.Put(ctx, map[string]any{"v": 1}, store.PutOptions{ID: id}); err != nil {
				t.Fatal(err)
			}
			_, err := s.Put(ctx, map[string]any{"v": 2}, store.PutOptions{ID: id})
			if !errors.Is(err, store.ErrAlreadyExists) {
				t.Fatalf("expected ErrAlreadyExists, got %v", err)
			}
		})
	}
}

func TestPut_Override(t *testing.T) {
	for name, s := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := newID()
			if _, err := s.Put(ctx, map[string]any{"v": "1", "old": true}, store.PutOptions{ID: id}); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Put(ctx, map[string]any{"v": "2"}, store.PutOptions{ID: id, Override: true}); err != nil {
				t.Fatalf("override failed: %v", err)
			}
			doc, err := s.Get(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			content := doc.Snapshot()
			if content["v"] != "2" {
				t.Errorf("expected v=2, got %v", content["v"])
			}
			if _, ok := content["old"]; ok {
				t.Error("expected override to drop old fields")
			}
		})
	}
}

func TestPut_AssignedID(t *testing.T) {
	for name, s := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			doc, err := s.Put(ctx, map[string]any{"v": 1}, store.PutOptions{})
			if err != nil {
				t.Fatal(err)
			}
			if doc.ID() == "" {
				t.Fatal("expected an assigned id")
			}
			ok, err := s.Exists(ctx, doc.ID())
			if err != nil || !ok {
				t.Errorf("expected document to exist, got ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	for name, s := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := newID()
			if _, err := s.Put(ctx, map[string]any{"v": 1}, store.PutOptions{ID: id}); err != nil {
				t.Fatal(err)
			}
			if err := s.Delete(ctx, id); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if _, err := s.Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("expected ErrNotFound after delete, got %v", err)
			}
			if err := s.Delete(ctx, id); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("expected ErrNotFound on second delete, got %v", err)
			}
		})
	}
}

func TestDelete_StaleRevision(t *testing.T) {
	for name, s := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := newID()
			if _, err := s.Put(ctx, map[string]any{"v": 1}, store.PutOptions{ID: id}); err != nil {
				t.Fatal(err)
			}
			stale, err := s.Get(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := s.Put(ctx, map[string]any{"v": 2}, store.PutOptions{ID: id, Override: true}); err != nil {
				t.Fatal(err)
			}
			if err := stale.Delete(ctx); !errors.Is(err, store.ErrConflict) {
				t.Errorf("expected ErrConflict, got %v", err)
			}
		})
	}
}

func TestConnectionsReleased(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, couch.New(), couchConfig)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	id := newID()
	s.Put(ctx, map[string]any{"v": 1}, store.PutOptions{ID: id})
	s.Put(ctx, map[string]any{"v": 1}, store.PutOptions{ID: id})
	s.Get(ctx, newID())
	s.Delete(ctx, id)

	stats := s.Stats()
	if stats.Connects != stats.Disconnects {
		t.Errorf("expected balanced connections, got %+v", stats)
	}
	if s.ConnState() != store.Disconnected {
		t.Errorf("expected disconnected, got %v", s.ConnState())
	}
}
