package qdrant

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/mem-go/pkg/errors"
	"github.com/theapemachine/mem-go/pkg/memory"
)

func TestClientGet(t *testing.T) {
	Convey("Given a qdrant client and a test server", t, func() {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"result":{"id":"123","payload":{"memory":"hello","user_id":"u1","created_at":"2026-01-01T00:00:00Z"}}}`)
		}))
		defer ts.Close()

		client := New(ts.URL, "memories")
		item, err := client.Get(context.Background(), "123")

		Convey("Then the item should be parsed correctly", func() {
			So(err, ShouldBeNil)
			So(item.ID, ShouldEqual, "123")
			So(item.Memory, ShouldEqual, "hello")
			So(item.Scope.UserID, ShouldEqual, "u1")
			So(item.CreatedAt.Year(), ShouldEqual, 2026)
		})
	})
}

func TestClientGetNotFound(t *testing.T) {
	Convey("Given a test server returning 404", t, func() {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer ts.Close()

		client := New(ts.URL, "memories")
		_, err := client.Get(context.Background(), "missing")

		Convey("Then the typed not-found error is returned", func() {
			So(stderrors.Is(err, errors.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestClientSearch(t *testing.T) {
	Convey("Given a qdrant client and a test server for search", t, func() {
		var captured map[string]any

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&captured)
			fmt.Fprint(w, `{"result":[{"id":"1","score":0.9,"payload":{"memory":"a","user_id":"u1"}},{"id":"2","score":0.5,"payload":{"memory":"b","user_id":"u1"}}]}`)
		}))
		defer ts.Close()

		client := New(ts.URL, "memories")
		filter := memory.ScopeFilter(memory.Scope{UserID: "u1"})
		items, err := client.Search(context.Background(), []float32{0.1}, filter, 2)

		Convey("Then the results should be parsed in score order", func() {
			So(err, ShouldBeNil)
			So(items, ShouldHaveLength, 2)
			So(items[0].Memory, ShouldEqual, "a")
			So(items[0].Score, ShouldEqual, 0.9)
			So(items[1].Score, ShouldEqual, 0.5)
		})

		Convey("And the compiled filter should be sent to the server", func() {
			So(err, ShouldBeNil)
			So(captured["filter"], ShouldNotBeNil)
			So(captured["limit"], ShouldEqual, 2)
		})
	})
}

func TestClientUpsert(t *testing.T) {
	Convey("Given a qdrant client and a capturing test server", t, func() {
		var captured map[string]any

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&captured)
			fmt.Fprint(w, `{"result":{"status":"acknowledged"}}`)
		}))
		defer ts.Close()

		client := New(ts.URL, "memories")
		item := memory.Item{
			ID:        "m1",
			Memory:    "likes pizza",
			Scope:     memory.Scope{UserID: "u1"},
			Metadata:  map[string]any{"category": "food"},
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}

		err := client.Upsert(context.Background(), item, []float32{0.1, 0.2})

		Convey("Then the point payload carries scope and metadata flat", func() {
			So(err, ShouldBeNil)

			points := captured["points"].([]any)
			So(points, ShouldHaveLength, 1)

			payload := points[0].(map[string]any)["payload"].(map[string]any)
			So(payload["memory"], ShouldEqual, "likes pizza")
			So(payload["user_id"], ShouldEqual, "u1")
			So(payload["category"], ShouldEqual, "food")
		})
	})
}

func TestClientDelete(t *testing.T) {
	Convey("Given a qdrant client and a test server", t, func() {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"result":{"status":"acknowledged"}}`)
		}))
		defer ts.Close()

		client := New(ts.URL, "memories")
		err := client.Delete(context.Background(), "m1")

		Convey("Then the delete should succeed", func() {
			So(err, ShouldBeNil)
		})
	})
}

func TestTranslateFilter(t *testing.T) {
	Convey("Given compiled filter expressions", t, func() {
		Convey("A scope equality becomes a must match", func() {
			expr := memory.ScopeFilter(memory.Scope{UserID: "u1"})
			qf, err := translateFilter(expr)

			So(err, ShouldBeNil)
			So(qf["must"], ShouldNotBeNil)
		})

		Convey("A wildcard scope condition constrains nothing", func() {
			expr, err := memory.CompileFilter(map[string]any{"user_id": "*"})
			So(err, ShouldBeNil)

			qf, err := translateFilter(expr)
			So(err, ShouldBeNil)
			So(qf, ShouldBeNil)
		})

		Convey("NOT becomes must_not", func() {
			expr, err := memory.CompileFilter(map[string]any{
				"user_id": "u1",
				"NOT":     map[string]any{"category": "food"},
			})
			So(err, ShouldBeNil)

			qf, err := translateFilter(expr)
			So(err, ShouldBeNil)

			raw, _ := json.Marshal(qf)
			So(string(raw), ShouldContainSubstring, "must_not")
		})

		Convey("icontains cannot be translated", func() {
			expr, err := memory.CompileFilter(map[string]any{
				"user_id":  "u1",
				"category": map[string]any{"icontains": "food"},
			})
			So(err, ShouldBeNil)

			_, err = translateFilter(expr)
			So(stderrors.Is(err, errors.ErrInvalidFilter), ShouldBeTrue)
		})
	})
}

func TestSupportedOperatorsExcludesIContains(t *testing.T) {
	Convey("Given a qdrant client", t, func() {
		client := New("http://localhost:6333", "memories")

		Convey("Then icontains is not advertised", func() {
			for _, op := range client.SupportedOperators() {
				So(op, ShouldNotEqual, memory.OpIContains)
			}
		})
	})
}
