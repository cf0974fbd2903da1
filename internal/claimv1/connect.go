package claimv1

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
)

// ClaimServiceName is the fully-qualified name of the ClaimService service.
const ClaimServiceName = "fomo.claim.v1.ClaimService"

// Procedure paths, usable with HTTP routers and interceptors.
const (
	ClaimServiceClaimProcedure             = "/fomo.claim.v1.ClaimService/Claim"
	ClaimServiceVerifyProcedure            = "/fomo.claim.v1.ClaimService/Verify"
	ClaimServiceGetCampaignStatusProcedure = "/fomo.claim.v1.ClaimService/GetCampaignStatus"
	ClaimServiceJoinWaitlistProcedure      = "/fomo.claim.v1.ClaimService/JoinWaitlist"
	ClaimServiceCreateCampaignProcedure    = "/fomo.claim.v1.ClaimService/CreateCampaign"
	ClaimServiceSetCampaignStatusProcedure = "/fomo.claim.v1.ClaimService/SetCampaignStatus"
	ClaimServiceSweepProcedure             = "/fomo.claim.v1.ClaimService/Sweep"
)

// ErrorCodeHeader carries the taxonomy error code on failed calls
const ErrorCodeHeader = "Error-Code"

// AdminProcedures require the admin token
var AdminProcedures = map[string]bool{
	ClaimServiceCreateCampaignProcedure:    true,
	ClaimServiceSetCampaignStatusProcedure: true,
	ClaimServiceSweepProcedure:             true,
}

// ClaimServiceHandler is implemented by the service
type ClaimServiceHandler interface {
	Claim(context.Context, *connect.Request[ClaimRequest]) (*connect.Response[ClaimResponse], error)
	Verify(context.Context, *connect.Request[VerifyRequest]) (*connect.Response[VerifyResponse], error)
	GetCampaignStatus(context.Context, *connect.Request[GetCampaignStatusRequest]) (*connect.Response[GetCampaignStatusResponse], error)
	JoinWaitlist(context.Context, *connect.Request[JoinWaitlistRequest]) (*connect.Response[JoinWaitlistResponse], error)
	CreateCampaign(context.Context, *connect.Request[CreateCampaignRequest]) (*connect.Response[CreateCampaignResponse], error)
	SetCampaignStatus(context.Context, *connect.Request[SetCampaignStatusRequest]) (*connect.Response[SetCampaignStatusResponse], error)
	Sweep(context.Context, *connect.Request[emptypb.Empty]) (*connect.Response[SweepResponse], error)
}

// NewClaimServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and the
// handler itself.
func NewClaimServiceHandler(svc ClaimServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)
	readOnly := append([]connect.HandlerOption{connect.WithIdempotency(connect.IdempotencyNoSideEffects)}, opts...)

	handlers := map[string]http.Handler{
		ClaimServiceClaimProcedure:             connect.NewUnaryHandler(ClaimServiceClaimProcedure, svc.Claim, opts...),
		ClaimServiceVerifyProcedure:            connect.NewUnaryHandler(ClaimServiceVerifyProcedure, svc.Verify, opts...),
		ClaimServiceGetCampaignStatusProcedure: connect.NewUnaryHandler(ClaimServiceGetCampaignStatusProcedure, svc.GetCampaignStatus, readOnly...),
		ClaimServiceJoinWaitlistProcedure:      connect.NewUnaryHandler(ClaimServiceJoinWaitlistProcedure, svc.JoinWaitlist, opts...),
		ClaimServiceCreateCampaignProcedure:    connect.NewUnaryHandler(ClaimServiceCreateCampaignProcedure, svc.CreateCampaign, opts...),
		ClaimServiceSetCampaignStatusProcedure: connect.NewUnaryHandler(ClaimServiceSetCampaignStatusProcedure, svc.SetCampaignStatus, opts...),
		ClaimServiceSweepProcedure:             connect.NewUnaryHandler(ClaimServiceSweepProcedure, svc.Sweep, opts...),
	}

	return "/" + ClaimServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := handlers[strings.TrimSuffix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// ClaimServiceClient calls the service over HTTP
type ClaimServiceClient struct {
	claim             *connect.Client[ClaimRequest, ClaimResponse]
	verify            *connect.Client[VerifyRequest, VerifyResponse]
	getCampaignStatus *connect.Client[GetCampaignStatusRequest, GetCampaignStatusResponse]
	joinWaitlist      *connect.Client[JoinWaitlistRequest, JoinWaitlistResponse]
	createCampaign    *connect.Client[CreateCampaignRequest, CreateCampaignResponse]
	setCampaignStatus *connect.Client[SetCampaignStatusRequest, SetCampaignStatusResponse]
	sweep             *connect.Client[emptypb.Empty, SweepResponse]
}

// NewClaimServiceClient constructs a client. baseURL is the server root,
// e.g. http://localhost:8080.
func NewClaimServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *ClaimServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
	readOnly := append([]connect.ClientOption{connect.WithIdempotency(connect.IdempotencyNoSideEffects)}, opts...)

	return &ClaimServiceClient{
		claim:             connect.NewClient[ClaimRequest, ClaimResponse](httpClient, baseURL+ClaimServiceClaimProcedure, opts...),
		verify:            connect.NewClient[VerifyRequest, VerifyResponse](httpClient, baseURL+ClaimServiceVerifyProcedure, opts...),
		getCampaignStatus: connect.NewClient[GetCampaignStatusRequest, GetCampaignStatusResponse](httpClient, baseURL+ClaimServiceGetCampaignStatusProcedure, readOnly...),
		joinWaitlist:      connect.NewClient[JoinWaitlistRequest, JoinWaitlistResponse](httpClient, baseURL+ClaimServiceJoinWaitlistProcedure, opts...),
		createCampaign:    connect.NewClient[CreateCampaignRequest, CreateCampaignResponse](httpClient, baseURL+ClaimServiceCreateCampaignProcedure, opts...),
		setCampaignStatus: connect.NewClient[SetCampaignStatusRequest, SetCampaignStatusResponse](httpClient, baseURL+ClaimServiceSetCampaignStatusProcedure, opts...),
		sweep:             connect.NewClient[emptypb.Empty, SweepResponse](httpClient, baseURL+ClaimServiceSweepProcedure, opts...),
	}
}

func (c *ClaimServiceClient) Claim(ctx context.Context, req *connect.Request[ClaimRequest]) (*connect.Response[ClaimResponse], error) {
	return c.claim.CallUnary(ctx, req)
}

func (c *ClaimServiceClient) Verify(ctx context.Context, req *connect.Request[VerifyRequest]) (*connect.Response[VerifyResponse], error) {
	return c.verify.CallUnary(ctx, req)
}

func (c *ClaimServiceClient) GetCampaignStatus(ctx context.Context, req *connect.Request[GetCampaignStatusRequest]) (*connect.Response[GetCampaignStatusResponse], error) {
	return c.getCampaignStatus.CallUnary(ctx, req)
}

func (c *ClaimServiceClient) JoinWaitlist(ctx context.Context, req *connect.Request[JoinWaitlistRequest]) (*connect.Response[JoinWaitlistResponse], error) {
	return c.joinWaitlist.CallUnary(ctx, req)
}

func (c *ClaimServiceClient) CreateCampaign(ctx context.Context, req *connect.Request[CreateCampaignRequest]) (*connect.Response[CreateCampaignResponse], error) {
	return c.createCampaign.CallUnary(ctx, req)
}

func (c *ClaimServiceClient) SetCampaignStatus(ctx context.Context, req *connect.Request[SetCampaignStatusRequest]) (*connect.Response[SetCampaignStatusResponse], error) {
	return c.setCampaignStatus.CallUnary(ctx, req)
}

func (c *ClaimServiceClient) Sweep(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[SweepResponse], error) {
	return c.sweep.CallUnary(ctx, req)
}

// ErrorCode returns the taxonomy code attached to a failed call
func ErrorCode(err error) string {
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return cerr.Meta().Get(ErrorCodeHeader)
	}
	return ""
}
