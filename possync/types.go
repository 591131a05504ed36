package possync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/kitchen_backend/workflow"
)

// OrderFeed pages through completed orders created at or after since.
// An empty NextCursor ends the listing; a page may be empty while a cursor
// is still returned.
type OrderFeed interface {
	ListCompletedOrders(ctx context.Context, since time.Time, cursor string) (FeedPage, error)
}

type FeedPage struct {
	Orders     []json.RawMessage
	NextCursor string
}

type FeedOrder struct {
	ID        string          `json:"id" validate:"required"`
	CreatedAt string          `json:"created_at"`
	Lines     []FeedOrderLine `json:"line_items" validate:"dive"`
}

type FeedOrderLine struct {
	ItemId      string      `json:"item_id"`
	VariationId string      `json:"variation_id"`
	Quantity    json.Number `json:"quantity"`
}

// RunStats is stored as the run's stats json.
type RunStats struct {
	OrdersSeen       int `json:"orders_seen"`
	Depleted         int `json:"depleted"`
	NoEffect         int `json:"no_effect"`
	Unmapped         int `json:"unmapped"`
	AlreadyProcessed int `json:"already_processed"`
	Failed           int `json:"failed"`
	Pages            int `json:"pages"`
}

func (s *RunStats) record(outcome workflow.Outcome) {
	switch outcome {
	case workflow.OutcomeDepleted:
		s.Depleted++
	case workflow.OutcomeNoEffect:
		s.NoEffect++
	case workflow.OutcomeUnmapped:
		s.Unmapped++
	case workflow.OutcomeAlreadyProcessed:
		s.AlreadyProcessed++
	}
}

// Reconciled counts orders this run wrote a sync record for.
func (s *RunStats) Reconciled() int {
	return s.Depleted + s.NoEffect + s.Unmapped
}

type CursorState struct {
	Since  string `json:"since"`
	Cursor string `json:"cursor"`
}

type ConnectRequest struct {
	StoreId          string `json:"storeId" validate:"required"`
	StoreName        string `json:"storeName"`
	APIKey           string `json:"apiKey" validate:"required"`
	WarehouseStoreId int    `json:"warehouseStoreId" validate:"required,gt=0"`
}

type StatusResponse struct {
	Connection        ConnectionResponse `json:"connection"`
	LastSyncAt        *string            `json:"lastSyncAt"`
	LastSuccessSyncAt *string            `json:"lastSuccessSyncAt"`
}

type ConnectionResponse struct {
	Status           string `json:"status"`
	MerchantId       string `json:"merchantId"`
	StoreName        string `json:"storeName"`
	WarehouseStoreId int    `json:"warehouseStoreId"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncRunResponse struct {
	ID            uint     `json:"id"`
	Status        string   `json:"status"`
	StartedAt     *string  `json:"startedAt"`
	FinishedAt    *string  `json:"finishedAt"`
	DurationMs    int64    `json:"durationMs"`
	OrdersSeen    int      `json:"ordersSeen"`
	RecordsSynced int      `json:"recordsSynced"`
	ErrorCount    int      `json:"errorCount"`
	TriggeredBy   string   `json:"triggeredBy"`
	ParentRunId   *uint    `json:"parentRunId"`
	Stats         RunStats `json:"stats"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

type SyncErrorResponse struct {
	ID         uint   `json:"id"`
	EntityType string `json:"entityType"`
	ExternalId string `json:"externalId"`
	ErrorCode  string `json:"errorCode"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncPubSubPayload struct {
	RunId        uint   `json:"run_id"`
	BusinessId   string `json:"business_id"`
	ConnectionId uint   `json:"connection_id"`
}
