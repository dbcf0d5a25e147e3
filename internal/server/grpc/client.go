package grpc

import (
	"context"

	"github.com/dmitrijs2005/paywall/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Client is a thin typed wrapper over a connection to the Ledger service.
type Client struct {
	conn        *grpc.ClientConn
	accessToken string
}

// Dial connects to addr using the JSON codec. Extra options are appended,
// which lets tests swap the dialer.
func Dial(addr, accessToken string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, accessToken: accessToken}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if c.accessToken != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, common.AccessTokenHeaderName, c.accessToken)
	}
	return c.conn.Invoke(ctx, fullMethod(method), req, resp)
}

func (c *Client) Ping(ctx context.Context) (*PingResponse, error) {
	resp := &PingResponse{}
	return resp, c.invoke(ctx, "Ping", &PingRequest{}, resp)
}

func (c *Client) OpenAccount(ctx context.Context) (*AccountResponse, error) {
	resp := &AccountResponse{}
	return resp, c.invoke(ctx, "OpenAccount", &OpenAccountRequest{}, resp)
}

func (c *Client) GetBalance(ctx context.Context) (*AccountResponse, error) {
	resp := &AccountResponse{}
	return resp, c.invoke(ctx, "GetBalance", &GetBalanceRequest{}, resp)
}

func (c *Client) ListUnlocked(ctx context.Context) (*ListUnlockedResponse, error) {
	resp := &ListUnlockedResponse{}
	return resp, c.invoke(ctx, "ListUnlocked", &ListUnlockedRequest{}, resp)
}

func (c *Client) CheckAccess(ctx context.Context, resourceID string) (*CheckAccessResponse, error) {
	resp := &CheckAccessResponse{}
	return resp, c.invoke(ctx, "CheckAccess", &CheckAccessRequest{ResourceID: resourceID}, resp)
}

func (c *Client) Purchase(ctx context.Context, resourceID string) (*PurchaseResponse, error) {
	resp := &PurchaseResponse{}
	return resp, c.invoke(ctx, "Purchase", &PurchaseRequest{ResourceID: resourceID}, resp)
}

func (c *Client) PresignEvidenceUpload(ctx context.Context) (*PresignEvidenceUploadResponse, error) {
	resp := &PresignEvidenceUploadResponse{}
	return resp, c.invoke(ctx, "PresignEvidenceUpload", &PresignEvidenceUploadRequest{}, resp)
}

func (c *Client) CreateDeposit(ctx context.Context, req *CreateDepositRequest) (*DepositResponse, error) {
	resp := &DepositResponse{}
	return resp, c.invoke(ctx, "CreateDeposit", req, resp)
}

func (c *Client) ApproveDeposit(ctx context.Context, depositID, token string) (*DecisionResponse, error) {
	resp := &DecisionResponse{}
	return resp, c.invoke(ctx, "ApproveDeposit", &ApproveDepositRequest{DepositID: depositID, Token: token}, resp)
}

func (c *Client) RejectDeposit(ctx context.Context, depositID, token, reason string) (*DecisionResponse, error) {
	resp := &DecisionResponse{}
	return resp, c.invoke(ctx, "RejectDeposit", &RejectDepositRequest{DepositID: depositID, Token: token, Reason: reason}, resp)
}

func (c *Client) ListStaleDeposits(ctx context.Context, req *ListStaleDepositsRequest) (*ListStaleDepositsResponse, error) {
	resp := &ListStaleDepositsResponse{}
	return resp, c.invoke(ctx, "ListStaleDeposits", req, resp)
}

func (c *Client) Reconcile(ctx context.Context, accountID string) (*ReconcileResponse, error) {
	resp := &ReconcileResponse{}
	return resp, c.invoke(ctx, "Reconcile", &ReconcileRequest{AccountID: accountID}, resp)
}
