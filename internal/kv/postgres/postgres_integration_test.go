// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/freshkv/freshkv/internal/kv"
	"github.com/freshkv/freshkv/internal/kv/postgres"
)

func TestPostgresStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Postgres KV Integration Suite")
}

var (
	pool      *pgxpool.Pool
	container *tcpostgres.PostgresContainer
	store     *postgres.Store
)

var _ = BeforeSuite(func() {
	ctx := context.Background()

	var err error
	container, err = tcpostgres.Run(ctx,
		"postgres:18-alpine",
		tcpostgres.WithDatabase("freshkv_test"),
		tcpostgres.WithUsername("freshkv"),
		tcpostgres.WithPassword("freshkv"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	Expect(err).NotTo(HaveOccurred())

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	Expect(err).NotTo(HaveOccurred())

	migrator, err := postgres.NewMigrator(connStr)
	Expect(err).NotTo(HaveOccurred())
	Expect(migrator.Up()).To(Succeed())
	_ = migrator.Close()

	pool, err = pgxpool.New(ctx, connStr)
	Expect(err).NotTo(HaveOccurred())
	store = postgres.New(pool)
})

var _ = AfterSuite(func() {
	if pool != nil {
		pool.Close()
	}
	if container != nil {
		_ = container.Terminate(context.Background())
	}
})

var _ = Describe("Store", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		_, err := pool.Exec(ctx, "DELETE FROM kv_entries")
		Expect(err).NotTo(HaveOccurred())
	})

	It("round-trips a value with its versionstamp", func() {
		vs, err := kv.Set(ctx, store, kv.Key{"users", "1"}, []byte(`{"id":"1"}`))
		Expect(err).NotTo(HaveOccurred())

		entry, err := store.Get(ctx, kv.Key{"users", "1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(entry.Versionstamp).To(Equal(vs))
		Expect(entry.Value).To(MatchJSON(`{"id":"1"}`))
	})

	It("issues increasing versionstamps", func() {
		first, err := kv.Set(ctx, store, kv.Key{"a"}, []byte(`1`))
		Expect(err).NotTo(HaveOccurred())
		second, err := kv.Set(ctx, store, kv.Key{"a"}, []byte(`2`))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(second) > string(first)).To(BeTrue())
	})

	It("lists by tuple prefix in key order", func() {
		for _, k := range []kv.Key{{"chat_messages", "b"}, {"chat_messages", "a"}, {"chat_messages_x", "c"}} {
			_, err := kv.Set(ctx, store, k, []byte(`1`))
			Expect(err).NotTo(HaveOccurred())
		}

		entries, err := store.List(ctx, kv.Key{"chat_messages"})
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(2))
		Expect(entries[0].Key).To(Equal(kv.Key{"chat_messages", "a"}))
	})

	It("rejects a stale version without writing anything", func() {
		_, err := kv.Set(ctx, store, kv.Key{"persons", "p1"}, []byte(`1`))
		Expect(err).NotTo(HaveOccurred())
		stale, err := store.Get(ctx, kv.Key{"persons", "p1"})
		Expect(err).NotTo(HaveOccurred())
		_, err = kv.Set(ctx, store, kv.Key{"persons", "p1"}, []byte(`2`))
		Expect(err).NotTo(HaveOccurred())

		_, err = kv.NewAtomic(store).
			CheckEntry(stale).
			Set(kv.Key{"persons", "p1"}, []byte(`3`)).
			Set(kv.Key{"audit", "p1"}, []byte(`3`)).
			Commit(ctx)
		Expect(err).To(MatchError(kv.ErrCheckFailed))

		audit, err := store.Get(ctx, kv.Key{"audit", "p1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(audit.Exists()).To(BeFalse())
	})

	It("admits exactly one of many racing absent claims", func() {
		const attempts = 20
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := kv.NewAtomic(store).
					Check(kv.Key{"users_by_username", "alice"}, "").
					Set(kv.Key{"users_by_username", "alice"}, []byte(`"x"`)).
					Commit(ctx)
				if err == nil {
					wins.Add(1)
					return
				}
				Expect(err).To(MatchError(kv.ErrCheckFailed))
			}()
		}
		wg.Wait()
		Expect(wins.Load()).To(Equal(int32(1)))
	})

	It("hides and sweeps expired entries", func() {
		_, err := kv.Set(ctx, store, kv.Key{"sessions", "s1"}, []byte(`1`), kv.WithExpireIn(50*time.Millisecond))
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() bool {
			entry, err := store.Get(ctx, kv.Key{"sessions", "s1"})
			return err == nil && !entry.Exists()
		}).WithTimeout(2 * time.Second).Should(BeTrue())

		n, err := store.DeleteExpired(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))
	})
})
