// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-auth/gatehouse/internal/auth"
	"github.com/gatehouse-auth/gatehouse/internal/auth/postgres"
	"github.com/gatehouse-auth/gatehouse/internal/auth/redisstore"
	"github.com/gatehouse-auth/gatehouse/internal/store"
	"github.com/gatehouse-auth/gatehouse/internal/web"
)

type rendered struct {
	View string         `json:"view"`
	Data map[string]any `json:"data"`
}

func decodeView(resp *http.Response) rendered {
	defer func() { _ = resp.Body.Close() }()
	var out rendered
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return out
}

var _ = Describe("Auth flow against PostgreSQL", Ordered, func() {
	var (
		ctx       context.Context
		container *tcpostgres.PostgresContainer
		pool      *pgxpool.Pool
		users     *postgres.UserRepository
		svc       *auth.Service
		logger    = slog.New(slog.DiscardHandler)
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("gatehouse_e2e"),
			tcpostgres.WithUsername("gatehouse"),
			tcpostgres.WithPassword("gatehouse"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = store.Connect(ctx, dsn, store.ConnectOptions{Logger: logger})
		Expect(err).NotTo(HaveOccurred())

		users = postgres.NewUserRepository(pool)
		hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
		Expect(err).NotTo(HaveOccurred())
		svc, err = auth.NewAuthServiceWithLogger(users, hasher, logger)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			Expect(container.Terminate(ctx)).To(Succeed())
		}
	})

	BeforeEach(func() {
		_, err := pool.Exec(ctx, "TRUNCATE users CASCADE")
		Expect(err).NotTo(HaveOccurred())
	})

	newBrowser := func(sessions auth.SessionStore) (*httptest.Server, *http.Client) {
		mgr, err := auth.NewSessionManager(sessions, time.Hour, logger)
		Expect(err).NotTo(HaveOccurred())
		h, err := web.NewHandler(web.Options{Auth: svc, Sessions: mgr, Users: users, Logger: logger})
		Expect(err).NotTo(HaveOccurred())

		srv := httptest.NewServer(h)
		DeferCleanup(srv.Close)

		jar, err := cookiejar.New(nil)
		Expect(err).NotTo(HaveOccurred())
		return srv, &http.Client{Jar: jar, Timeout: 10 * time.Second}
	}

	exerciseFlow := func(srv *httptest.Server, client *http.Client) {
		resp, err := client.PostForm(srv.URL+"/signup", url.Values{
			"username": {"alice"},
			"email":    {"alice@example.com"},
			"password": {"Secret1"},
		})
		Expect(err).NotTo(HaveOccurred())
		profile := decodeView(resp)
		Expect(profile.View).To(Equal(web.ViewUserProfile))
		Expect(profile.Data["username"]).To(Equal("alice"))

		resp, err = client.PostForm(srv.URL+"/logout", url.Values{})
		Expect(err).NotTo(HaveOccurred())
		Expect(decodeView(resp).View).To(Equal(web.ViewIndex))

		resp, err = client.Get(srv.URL + "/userProfile")
		Expect(err).NotTo(HaveOccurred())
		Expect(decodeView(resp).View).To(Equal(web.ViewLogin))

		resp, err = client.PostForm(srv.URL+"/login", url.Values{
			"email":    {"ALICE@example.com"},
			"password": {"Secret1"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(decodeView(resp).View).To(Equal(web.ViewUserProfile))
	}

	It("signs up, logs out and logs back in with postgres sessions", func() {
		srv, client := newBrowser(postgres.NewSessionStore(pool))
		exerciseFlow(srv, client)
	})

	It("signs up, logs out and logs back in with redis sessions", func() {
		mr := miniredis.NewMiniRedis()
		Expect(mr.Start()).To(Succeed())
		DeferCleanup(mr.Close)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(rdb.Close)

		srv, client := newBrowser(redisstore.NewSessionStore(rdb, redisstore.DefaultKeyPrefix))
		exerciseFlow(srv, client)
	})

	It("rejects a second account with the same email in any case", func() {
		_, err := svc.Signup(ctx, auth.Credentials{Username: "alice", Email: "alice@example.com", Password: "Secret1"})
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.Signup(ctx, auth.Credentials{Username: "bob", Email: "Alice@Example.COM", Password: "Secret1"})
		var signupErr *auth.SignupError
		Expect(errors.As(err, &signupErr)).To(BeTrue())
		Expect(signupErr.Kind).To(Equal(auth.SignupDuplicateCredential))
	})

	It("admits exactly one of many concurrent signups for one email", func() {
		const n = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			dupes     int
		)
		for i := range n {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := svc.Signup(ctx, auth.Credentials{
					Username: "user" + string(rune('a'+i)),
					Email:    "shared@example.com",
					Password: "Secret1",
				})
				mu.Lock()
				defer mu.Unlock()
				var signupErr *auth.SignupError
				switch {
				case err == nil:
					successes++
				case errors.As(err, &signupErr) && signupErr.Kind == auth.SignupDuplicateCredential:
					dupes++
				}
			}()
		}
		wg.Wait()

		Expect(successes).To(Equal(1))
		Expect(dupes).To(Equal(n - 1))
	})

	It("sweeps expired postgres sessions", func() {
		user, err := svc.Signup(ctx, auth.Credentials{Username: "alice", Email: "alice@example.com", Password: "Secret1"})
		Expect(err).NotTo(HaveOccurred())

		sessions := postgres.NewSessionStore(pool)
		expired, err := auth.NewSession(user.ID, "expired-hash", time.Now().Add(-time.Minute))
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions.Put(ctx, "expired-hash", expired)).To(Succeed())

		mgr, err := auth.NewSessionManager(sessions, time.Hour, logger)
		Expect(err).NotTo(HaveOccurred())
		n, err := mgr.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeNumerically(">=", 1))

		_, err = sessions.Get(ctx, "expired-hash")
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
	})
})
