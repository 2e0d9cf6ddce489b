package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrine/domainstack/api"
	"github.com/elektrine/domainstack/config"
	"github.com/elektrine/domainstack/interfaces"
	"github.com/elektrine/domainstack/internal/enum"
	"github.com/elektrine/domainstack/internal/logger"
	"github.com/elektrine/domainstack/internal/models"
	"github.com/elektrine/domainstack/internal/repository"
	"github.com/elektrine/domainstack/internal/repository/mocks"
	"github.com/elektrine/domainstack/services"
	"github.com/elektrine/domainstack/services/certcache"
	"github.com/elektrine/domainstack/services/domain"
	"github.com/elektrine/domainstack/services/secrets"
)

const (
	testAPIKey = "test-api-key"
	testUserID = "user-1"
)

type stubVerifier struct {
	ownership interfaces.OwnershipResult
}

func (v *stubVerifier) VerifyOwnership(context.Context, string, string) interfaces.OwnershipResult {
	return v.ownership
}

func (v *stubVerifier) VerifyEmailDNS(context.Context, string, string, string) interfaces.EmailDNSResult {
	return interfaces.EmailDNSResult{
		MX: enum.DNSCheckOK, SPF: enum.DNSCheckOK,
		DKIM: enum.DNSCheckOK, DMARC: enum.DNSCheckOK,
	}
}

func (v *stubVerifier) CheckARecord(context.Context, string) interfaces.RecordCheck {
	return interfaces.RecordCheck{Status: enum.DNSCheckOK}
}

type stubJobs struct {
	enqueued []interfaces.DomainJob
}

func (j *stubJobs) Enqueue(_ context.Context, job interfaces.DomainJob) error {
	j.enqueued = append(j.enqueued, job)
	return nil
}

func (j *stubJobs) SetHandler(interfaces.JobHandler) {}
func (j *stubJobs) Start(context.Context) error      { return nil }
func (j *stubJobs) Stop()                            {}

type testEnv struct {
	router  *gin.Engine
	domains *mocks.InMemoryCustomDomainRepository
	jobs    *stubJobs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewAppLogger(&logger.Config{DevMode: true})
	log.InitLogger()

	codec, err := secrets.NewSecretCodec("handler-test-master-secret")
	require.NoError(t, err)

	domainsRepo := mocks.NewInMemoryCustomDomainRepository()
	repos := &repository.Repositories{
		CustomDomainRepository:        domainsRepo,
		CustomDomainAddressRepository: mocks.NewInMemoryCustomDomainAddressRepository(),
	}

	verifier := &stubVerifier{ownership: interfaces.OwnershipResult{Status: enum.DNSCheckOK}}
	cache := certcache.NewCertificateCache(repos, codec, log)
	jobs := &stubJobs{}

	appCfg := &config.AppConfig{APIKey: testAPIKey, PublicIP: "203.0.113.10"}
	domainCfg := &config.DomainConfig{
		MaxDomainsPerUser: 5,
		MailHost:          "mail.elektrine.com",
		SPFInclude:        "_spf.elektrine.com",
		DkimSelector:      "elektrine",
	}

	registry := domain.NewDomainRegistry(repos, verifier, cache, codec, jobs, appCfg, domainCfg, log)

	router := gin.New()
	api.RegisterRoutes(router, &services.Services{DomainRegistry: registry}, testAPIKey)

	return &testEnv{router: router, domains: domainsRepo, jobs: jobs}
}

func (e *testEnv) request(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if authed {
		req.Header.Set("X-API-KEY", testAPIKey)
		req.Header.Set("X-ELEKTRINE-USER-ID", testUserID)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/health", nil, false)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterDomain(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/v1/domains", gin.H{"domain": "shop.example.com"}, true)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Domain          models.CustomDomain           `json:"domain"`
		ExpectedRecords interfaces.ExpectedDNSRecords `json:"expectedRecords"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "shop.example.com", resp.Domain.Domain)
	assert.Equal(t, enum.DomainStatusPending, resp.Domain.Status)
	assert.Equal(t, "_elektrine.shop.example.com", resp.ExpectedRecords.VerificationHost)
	assert.NotEmpty(t, resp.Domain.VerificationToken)
}

func TestRegisterDomain_Invalid(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/v1/domains", gin.H{"domain": "not a hostname"}, true)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterDomain_Duplicate(t *testing.T) {
	env := newTestEnv(t)

	first := env.request(t, http.MethodPost, "/v1/domains", gin.H{"domain": "shop.example.com"}, true)
	require.Equal(t, http.StatusCreated, first.Code)

	second := env.request(t, http.MethodPost, "/v1/domains", gin.H{"domain": "shop.example.com"}, true)
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestRegisterDomain_RequiresAPIKey(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/v1/domains", gin.H{"domain": "shop.example.com"}, false)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterDomain_RequiresUserId(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/domains", bytes.NewBufferString(`{"domain":"shop.example.com"}`))
	req.Header.Set("X-API-KEY", testAPIKey)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetDomain_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/v1/domains/missing.example.com", nil, true)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetDomain_OtherUsersDomainIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	env.domains.Seed(&models.CustomDomain{
		ID: "cdom_1", UserID: "someone-else", Domain: "theirs.example.com",
		Status: enum.DomainStatusPending, SSLStatus: enum.SSLStatusNone,
	})

	w := env.request(t, http.MethodGet, "/v1/domains/theirs.example.com", nil, true)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestVerifyThenProvisionFlow(t *testing.T) {
	env := newTestEnv(t)

	created := env.request(t, http.MethodPost, "/v1/domains", gin.H{"domain": "shop.example.com"}, true)
	require.Equal(t, http.StatusCreated, created.Code)

	verified := env.request(t, http.MethodPost, "/v1/domains/shop.example.com/verify", nil, true)
	require.Equal(t, http.StatusOK, verified.Code)

	provisioned := env.request(t, http.MethodPost, "/v1/domains/shop.example.com/provision-ssl", nil, true)
	require.Equal(t, http.StatusAccepted, provisioned.Code)
	require.Len(t, env.jobs.enqueued, 1)
	assert.Equal(t, enum.JobActionProvision, env.jobs.enqueued[0].Action)

	// A second provisioning request conflicts while the first is pending.
	again := env.request(t, http.MethodPost, "/v1/domains/shop.example.com/provision-ssl", nil, true)
	assert.Equal(t, http.StatusConflict, again.Code)
}

func TestDeleteDomain(t *testing.T) {
	env := newTestEnv(t)

	created := env.request(t, http.MethodPost, "/v1/domains", gin.H{"domain": "shop.example.com"}, true)
	require.Equal(t, http.StatusCreated, created.Code)

	deleted := env.request(t, http.MethodDelete, "/v1/domains/shop.example.com", nil, true)
	require.Equal(t, http.StatusOK, deleted.Code)

	gone := env.request(t, http.MethodGet, "/v1/domains/shop.example.com", nil, true)
	assert.Equal(t, http.StatusNotFound, gone.Code)
}

func TestAcmeChallenge(t *testing.T) {
	env := newTestEnv(t)
	env.domains.Seed(&models.CustomDomain{
		ID: "cdom_1", UserID: testUserID, Domain: "shop.example.com",
		Status: enum.DomainStatusProvisioningSSL, SSLStatus: enum.SSLStatusProvisioning,
		AcmeChallengeToken: "tok-123", AcmeChallengeResponse: "tok-123.keyauth",
	})

	// Unauthenticated, the CA has no credentials.
	w := env.request(t, http.MethodGet, "/.well-known/acme-challenge/tok-123", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tok-123.keyauth", w.Body.String())

	missing := env.request(t, http.MethodGet, "/.well-known/acme-challenge/unknown", nil, false)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestEmailLifecycle(t *testing.T) {
	env := newTestEnv(t)

	created := env.request(t, http.MethodPost, "/v1/domains", gin.H{"domain": "shop.example.com"}, true)
	require.Equal(t, http.StatusCreated, created.Code)

	enabled := env.request(t, http.MethodPost, "/v1/domains/shop.example.com/email/enable", nil, true)
	require.Equal(t, http.StatusOK, enabled.Code)

	var resp struct {
		Domain          models.CustomDomain           `json:"domain"`
		ExpectedRecords interfaces.ExpectedDNSRecords `json:"expectedRecords"`
	}
	require.NoError(t, json.Unmarshal(enabled.Body.Bytes(), &resp))
	assert.True(t, resp.Domain.EmailEnabled)
	assert.NotEmpty(t, resp.Domain.DkimPublicKey)
	assert.Contains(t, resp.ExpectedRecords.DKIMHost, "_domainkey.shop.example.com")

	refreshed := env.request(t, http.MethodPost, "/v1/domains/shop.example.com/email/refresh-dns", nil, true)
	assert.Equal(t, http.StatusOK, refreshed.Code)

	catchAll := env.request(t, http.MethodPut, "/v1/domains/shop.example.com/email/catch-all",
		gin.H{"enabled": true, "mailboxId": "mbx-1"}, true)
	assert.Equal(t, http.StatusOK, catchAll.Code)

	disabled := env.request(t, http.MethodPost, "/v1/domains/shop.example.com/email/disable", nil, true)
	assert.Equal(t, http.StatusOK, disabled.Code)
}

func TestSetCatchAll_MailboxRequired(t *testing.T) {
	env := newTestEnv(t)

	created := env.request(t, http.MethodPost, "/v1/domains", gin.H{"domain": "shop.example.com"}, true)
	require.Equal(t, http.StatusCreated, created.Code)

	w := env.request(t, http.MethodPut, "/v1/domains/shop.example.com/email/catch-all",
		gin.H{"enabled": true}, true)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddressCRUD(t *testing.T) {
	env := newTestEnv(t)

	created := env.request(t, http.MethodPost, "/v1/domains", gin.H{"domain": "shop.example.com"}, true)
	require.Equal(t, http.StatusCreated, created.Code)

	added := env.request(t, http.MethodPost, "/v1/domains/shop.example.com/addresses",
		gin.H{"localPart": "sales", "mailboxId": "mbx-1"}, true)
	require.Equal(t, http.StatusCreated, added.Code)

	var addResp struct {
		Address models.CustomDomainAddress `json:"address"`
	}
	require.NoError(t, json.Unmarshal(added.Body.Bytes(), &addResp))
	assert.Equal(t, "sales", addResp.Address.LocalPart)

	dup := env.request(t, http.MethodPost, "/v1/domains/shop.example.com/addresses",
		gin.H{"localPart": "SALES", "mailboxId": "mbx-2"}, true)
	assert.Equal(t, http.StatusConflict, dup.Code)

	listed := env.request(t, http.MethodGet, "/v1/domains/shop.example.com/addresses", nil, true)
	require.Equal(t, http.StatusOK, listed.Code)

	updated := env.request(t, http.MethodPut, "/v1/domains/shop.example.com/addresses/"+addResp.Address.ID,
		gin.H{"enabled": false, "mailboxId": "mbx-2"}, true)
	assert.Equal(t, http.StatusOK, updated.Code)

	removed := env.request(t, http.MethodDelete, "/v1/domains/shop.example.com/addresses/"+addResp.Address.ID, nil, true)
	assert.Equal(t, http.StatusOK, removed.Code)

	missing := env.request(t, http.MethodDelete, "/v1/domains/shop.example.com/addresses/"+addResp.Address.ID, nil, true)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}
