package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/transacta/paymentid/internal/aws"
	"github.com/transacta/paymentid/internal/aws/awstest"
	"github.com/transacta/paymentid/internal/products"
)

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestPlan_ExpiredListingIsUnpublished(t *testing.T) {
	list := []products.Product{{ID: "p1", Date: date(2024, 1, 1), ExpiryDays: 5, IsPublished: true}}

	got := Plan(list, date(2024, 1, 10), "", time.UTC)

	want := products.SweepUpdate{ID: "p1", PrevExpiryDays: 5, ExpiryDays: 0, Unpublish: true}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("expected [%+v], got %+v", want, got)
	}
}

func TestPlan_DecrementsFromLastRun(t *testing.T) {
	list := []products.Product{{ID: "p1", Date: date(2024, 1, 1), ExpiryDays: 30, IsPublished: true}}

	got := Plan(list, date(2024, 1, 6).Add(time.Hour), "2024-01-05", time.UTC)

	if len(got) != 1 || got[0].ExpiryDays != 29 || got[0].Unpublish {
		t.Fatalf("expected one decrement to 29, got %+v", got)
	}
}

func TestPlan_CountsCalendarDaysAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	list := []products.Product{{ID: "p1", Date: time.Date(2024, 3, 1, 0, 0, 0, 0, ny), ExpiryDays: 30, IsPublished: true}}

	// 2024-03-10 is 23 hours long in New York
	spring := Plan(list, time.Date(2024, 3, 11, 0, 0, 5, 0, ny), "2024-03-10", ny)
	if len(spring) != 1 || spring[0].ExpiryDays != 29 {
		t.Fatalf("expected one decrement after the spring-forward day, got %+v", spring)
	}

	// 2024-11-03 is 25 hours long; one day must not count twice
	list[0].Date = time.Date(2024, 10, 20, 0, 0, 0, 0, ny)
	fall := Plan(list, time.Date(2024, 11, 4, 0, 0, 5, 0, ny), "2024-11-03", ny)
	if len(fall) != 1 || fall[0].ExpiryDays != 29 {
		t.Fatalf("expected one decrement after the fall-back day, got %+v", fall)
	}
}

func TestPlan_SkipsUnchangedListings(t *testing.T) {
	list := []products.Product{
		// created today
		{ID: "fresh", Date: date(2024, 1, 10), ExpiryDays: 7, IsPublished: true},
		// already exhausted and hidden
		{ID: "done", Date: date(2023, 12, 1), ExpiryDays: 0, IsPublished: false},
	}

	if got := Plan(list, date(2024, 1, 10).Add(2*time.Hour), "2024-01-09", time.UTC); len(got) != 0 {
		t.Fatalf("expected no updates, got %+v", got)
	}
}

func TestPlan_PublishedWithZeroDaysIsHidden(t *testing.T) {
	list := []products.Product{{ID: "p1", Date: date(2024, 1, 9), ExpiryDays: 0, IsPublished: true}}

	got := Plan(list, date(2024, 1, 9).Add(time.Hour), "", time.UTC)

	if len(got) != 1 || !got[0].Unpublish || got[0].ExpiryDays != 0 {
		t.Fatalf("expected the listing to be hidden, got %+v", got)
	}
}

func TestPlan_NoPublishedListingOutlivesItsWindow(t *testing.T) {
	now := date(2024, 3, 1)
	var list []products.Product
	for i := 0; i < 40; i++ {
		list = append(list, products.Product{
			ID:          strconv.Itoa(i),
			Date:        now.AddDate(0, 0, -i),
			ExpiryDays:  i % 12,
			IsPublished: true,
		})
	}

	planned := map[string]products.SweepUpdate{}
	for _, u := range Plan(list, now, "", time.UTC) {
		planned[u.ID] = u
	}
	for _, p := range list {
		if u, ok := planned[p.ID]; ok {
			p.ExpiryDays = u.ExpiryDays
			p.IsPublished = p.IsPublished && !u.Unpublish
		}
		if p.IsPublished && now.After(p.ExpiresAt()) {
			t.Errorf("listing %s still published after its window", p.ID)
		}
	}
}

type sweepFixture struct {
	db      *awstest.DynamoDB
	cw      *awstest.CloudWatch
	sweeper *Sweeper

	// productErr fails every single-item product write
	productErr error
}

func newSweepFixture(t *testing.T, now time.Time) *sweepFixture {
	t.Helper()
	f := &sweepFixture{
		db: awstest.NewDynamoDB(map[string]string{"products": "id", "system_config": "id"}),
		cw: &awstest.CloudWatch{},
	}
	f.db.UpdateItemFn = func(in *dyn.UpdateItemInput) (*dyn.UpdateItemOutput, error) {
		if *in.TableName == "products" {
			return f.updateProduct(in)
		}
		return f.updateMarker(in)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.sweeper = New(products.NewStore(f.db, "products"), NewMarkerStore(f.db, "system_config"),
		aws.NewMetricsPublisher(f.cw, Namespace), time.UTC, logger)
	f.sweeper.nowFunc = func() time.Time { return now }
	return f
}

// updateProduct applies a guarded product update when expiry_days still
// holds :prev.
func (f *sweepFixture) updateProduct(in *dyn.UpdateItemInput) (*dyn.UpdateItemOutput, error) {
	if f.productErr != nil {
		return nil, f.productErr
	}
	id := in.Key["id"].(*types.AttributeValueMemberS).Value
	stored, ok := f.db.Item("products", id)["expiry_days"].(*types.AttributeValueMemberN)
	if !ok || stored.Value != in.ExpressionAttributeValues[":prev"].(*types.AttributeValueMemberN).Value {
		return nil, &types.ConditionalCheckFailedException{}
	}
	return &dyn.UpdateItemOutput{}, f.db.ApplySet(in)
}

// updateMarker evaluates the marker conditions against the stored value.
func (f *sweepFixture) updateMarker(in *dyn.UpdateItemInput) (*dyn.UpdateItemOutput, error) {
	var stored string
	if v, ok := f.db.Item("system_config", MarkerID)["lastExpiryUpdate"].(*types.AttributeValueMemberS); ok {
		stored = v.Value
	}
	value := func(name string) string {
		return in.ExpressionAttributeValues[name].(*types.AttributeValueMemberS).Value
	}
	next := map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: MarkerID}}
	switch *in.ConditionExpression {
	case "attribute_not_exists(lastExpiryUpdate)":
		if stored != "" {
			return nil, &types.ConditionalCheckFailedException{}
		}
		next["lastExpiryUpdate"] = in.ExpressionAttributeValues[":today"]
	case "lastExpiryUpdate = :prev":
		if stored != value(":prev") {
			return nil, &types.ConditionalCheckFailedException{}
		}
		next["lastExpiryUpdate"] = in.ExpressionAttributeValues[":today"]
	case "lastExpiryUpdate = :today":
		if stored != value(":today") {
			return nil, &types.ConditionalCheckFailedException{}
		}
		if prev, ok := in.ExpressionAttributeValues[":prev"]; ok {
			next["lastExpiryUpdate"] = prev
		}
	}
	f.db.Seed("system_config", next)
	return &dyn.UpdateItemOutput{}, nil
}

func (f *sweepFixture) seedProduct(t *testing.T, p products.Product) {
	t.Helper()
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.db.Seed("products", item)
}

func (f *sweepFixture) productUpdates() []*dyn.UpdateItemInput {
	var out []*dyn.UpdateItemInput
	for _, in := range f.db.Updates {
		if *in.TableName == "products" {
			out = append(out, in)
		}
	}
	return out
}

func (f *sweepFixture) markerDay() string {
	v, _ := f.db.Item("system_config", MarkerID)["lastExpiryUpdate"].(*types.AttributeValueMemberS)
	if v == nil {
		return ""
	}
	return v.Value
}

func (f *sweepFixture) expiryDays(t *testing.T, id string) int {
	t.Helper()
	var p products.Product
	if err := attributevalue.UnmarshalMap(f.db.Item("products", id), &p); err != nil {
		t.Fatalf("unmarshal %s: %v", id, err)
	}
	return p.ExpiryDays
}

func TestRun_SweepsAndClaimsTheDay(t *testing.T) {
	f := newSweepFixture(t, date(2024, 1, 10).Add(30*time.Minute))
	f.seedProduct(t, products.Product{ID: "p1", Title: "Old", Slug: "old", Date: date(2024, 1, 1), ExpiryDays: 5, IsPublished: true})
	f.seedProduct(t, products.Product{ID: "p2", Title: "New", Slug: "new", Date: date(2024, 1, 10), ExpiryDays: 5, IsPublished: true})

	res, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := Result{Day: "2024-01-10", Scanned: 2, Planned: 1, Updated: 1, Unpublished: 1}
	if res != want {
		t.Fatalf("expected %+v, got %+v", want, res)
	}

	if len(f.db.Transacts) != 1 || len(f.db.Transacts[0].TransactItems) != 1 {
		t.Fatalf("expected one transaction with one item, got %d", len(f.db.Transacts))
	}
	upd := f.db.Transacts[0].TransactItems[0].Update
	if *upd.ConditionExpression != "expiry_days = :prev" {
		t.Errorf("unexpected condition %q", *upd.ConditionExpression)
	}
	if got := upd.ExpressionAttributeValues[":prev"].(*types.AttributeValueMemberN).Value; got != "5" {
		t.Errorf("expected :prev 5, got %s", got)
	}
	if got := upd.ExpressionAttributeValues[":days"].(*types.AttributeValueMemberN).Value; got != "0" {
		t.Errorf("expected :days 0, got %s", got)
	}
	if upd.ExpressionAttributeValues[":pub"].(*types.AttributeValueMemberBOOL).Value {
		t.Error("expected the listing to be unpublished")
	}

	if got := f.markerDay(); got != "2024-01-10" {
		t.Errorf("expected the day to be claimed, marker is %q", got)
	}
	if len(f.cw.Puts) != 1 || *f.cw.Puts[0].Namespace != Namespace {
		t.Errorf("expected one metric push to %s, got %d", Namespace, len(f.cw.Puts))
	}
}

func TestRun_SecondRunSameDayIsSkipped(t *testing.T) {
	f := newSweepFixture(t, date(2024, 1, 10).Add(time.Hour))
	f.seedProduct(t, products.Product{ID: "p1", Date: date(2024, 1, 1), ExpiryDays: 5, IsPublished: true})

	if _, err := f.sweeper.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	_, err := f.sweeper.Run(context.Background())
	if !errors.Is(err, ErrAlreadySwept) || !IsAlreadySwept(err) {
		t.Fatalf("expected ErrAlreadySwept, got %v", err)
	}
	if len(f.db.Transacts) != 1 {
		t.Fatalf("expected no writes on the second run, got %d transactions", len(f.db.Transacts))
	}
}

func TestRun_LosingTheClaimWritesNothing(t *testing.T) {
	f := newSweepFixture(t, date(2024, 1, 10).Add(time.Hour))
	f.seedProduct(t, products.Product{ID: "p1", Date: date(2024, 1, 1), ExpiryDays: 5, IsPublished: true})

	f.sweeper.marker = &racingMarker{MarkerStore: NewMarkerStore(f.db, "system_config"), db: f.db}

	if _, err := f.sweeper.Run(context.Background()); !errors.Is(err, ErrAlreadySwept) {
		t.Fatalf("expected ErrAlreadySwept, got %v", err)
	}
	if len(f.db.Transacts) != 0 || len(f.productUpdates()) != 0 {
		t.Fatal("expected no product writes")
	}
}

// racingMarker lets a concurrent sweeper claim the day between read and claim.
type racingMarker struct {
	*MarkerStore
	db *awstest.DynamoDB
}

func (r *racingMarker) Last(ctx context.Context) (string, error) {
	prev, err := r.MarkerStore.Last(ctx)
	r.db.Seed("system_config", map[string]types.AttributeValue{
		"id":               &types.AttributeValueMemberS{Value: MarkerID},
		"lastExpiryUpdate": &types.AttributeValueMemberS{Value: "2024-01-10"},
	})
	return prev, err
}

func TestRun_EditedListingOnlySkipsItself(t *testing.T) {
	f := newSweepFixture(t, date(2024, 1, 10).Add(time.Hour))
	f.seedProduct(t, products.Product{ID: "p1", Date: date(2024, 1, 1), ExpiryDays: 30, IsPublished: true})
	f.seedProduct(t, products.Product{ID: "p2", Date: date(2024, 1, 1), ExpiryDays: 30, IsPublished: true})

	// an admin extends p2 after the sweeper read it, cancelling the chunk
	f.db.TransactWriteItemsFn = func(*dyn.TransactWriteItemsInput) (*dyn.TransactWriteItemsOutput, error) {
		f.seedProduct(t, products.Product{ID: "p2", Date: date(2024, 1, 1), ExpiryDays: 60, IsPublished: true})
		reason := func(code string) types.CancellationReason { return types.CancellationReason{Code: &code} }
		return nil, &types.TransactionCanceledException{
			CancellationReasons: []types.CancellationReason{reason("None"), reason("ConditionalCheckFailed")},
		}
	}

	res, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Updated != 1 || res.Skipped != 1 {
		t.Fatalf("expected 1 updated and 1 skipped, got %+v", res)
	}
	if got := f.expiryDays(t, "p1"); got != 21 {
		t.Errorf("expected p1 to lose its 9 days, got %d", got)
	}
	if got := f.expiryDays(t, "p2"); got != 60 {
		t.Errorf("expected the edit on p2 to stand, got %d", got)
	}
	if got := f.markerDay(); got != "2024-01-10" {
		t.Errorf("expected the day to stay claimed, marker is %q", got)
	}
}

func TestRun_ReleasesClaimWhenNothingApplied(t *testing.T) {
	f := newSweepFixture(t, date(2024, 1, 10).Add(time.Hour))
	f.seedProduct(t, products.Product{ID: "p1", Date: date(2024, 1, 1), ExpiryDays: 5, IsPublished: true})
	throttled := errors.New("throttled")
	f.db.TransactWriteItemsFn = func(*dyn.TransactWriteItemsInput) (*dyn.TransactWriteItemsOutput, error) {
		return nil, throttled
	}
	f.productErr = throttled

	_, err := f.sweeper.Run(context.Background())
	if err == nil || errors.Is(err, ErrAlreadySwept) {
		t.Fatalf("expected the write failure, got %v", err)
	}
	if !errors.Is(err, throttled) {
		t.Errorf("expected the cause to be wrapped, got %v", err)
	}

	// claim, one single-item attempt, release
	if n := len(f.productUpdates()); n != 1 {
		t.Errorf("expected one single-item retry, got %d", n)
	}
	last := f.db.Updates[len(f.db.Updates)-1]
	if *last.UpdateExpression != "REMOVE lastExpiryUpdate" {
		t.Errorf("expected the claim to be released, last update was %q", *last.UpdateExpression)
	}
	if got := f.markerDay(); got != "" {
		t.Errorf("expected no claimed day, marker is %q", got)
	}
}
