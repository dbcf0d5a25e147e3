package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "paywall.v1.Ledger"

// LedgerServer is the server API of the Ledger service.
type LedgerServer interface {
	Ping(context.Context, *PingRequest) (*PingResponse, error)
	OpenAccount(context.Context, *OpenAccountRequest) (*AccountResponse, error)
	GetBalance(context.Context, *GetBalanceRequest) (*AccountResponse, error)
	ListUnlocked(context.Context, *ListUnlockedRequest) (*ListUnlockedResponse, error)
	CheckAccess(context.Context, *CheckAccessRequest) (*CheckAccessResponse, error)
	Purchase(context.Context, *PurchaseRequest) (*PurchaseResponse, error)
	PresignEvidenceUpload(context.Context, *PresignEvidenceUploadRequest) (*PresignEvidenceUploadResponse, error)
	CreateDeposit(context.Context, *CreateDepositRequest) (*DepositResponse, error)
	ApproveDeposit(context.Context, *ApproveDepositRequest) (*DecisionResponse, error)
	RejectDeposit(context.Context, *RejectDepositRequest) (*DecisionResponse, error)
	ListStaleDeposits(context.Context, *ListStaleDepositsRequest) (*ListStaleDepositsResponse, error)
	Reconcile(context.Context, *ReconcileRequest) (*ReconcileResponse, error)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary adapts a typed handler to grpc.MethodDesc. Requests are validated
// after the interceptor chain has run, so unauthenticated callers learn
// nothing about the payload rules.
func unary[Req, Resp any](name string, call func(*GRPCServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*GRPCServer)

			handler := func(ctx context.Context, req any) (any, error) {
				r := req.(*Req)
				if err := s.validate.StructCtx(ctx, r); err != nil {
					return nil, status.Error(codes.InvalidArgument, err.Error())
				}
				return call(s, ctx, r)
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Ping", (*GRPCServer).Ping),
		unary("OpenAccount", (*GRPCServer).OpenAccount),
		unary("GetBalance", (*GRPCServer).GetBalance),
		unary("ListUnlocked", (*GRPCServer).ListUnlocked),
		unary("CheckAccess", (*GRPCServer).CheckAccess),
		unary("Purchase", (*GRPCServer).Purchase),
		unary("PresignEvidenceUpload", (*GRPCServer).PresignEvidenceUpload),
		unary("CreateDeposit", (*GRPCServer).CreateDeposit),
		unary("ApproveDeposit", (*GRPCServer).ApproveDeposit),
		unary("RejectDeposit", (*GRPCServer).RejectDeposit),
		unary("ListStaleDeposits", (*GRPCServer).ListStaleDeposits),
		unary("Reconcile", (*GRPCServer).Reconcile),
	},
	Metadata: "paywall/v1/ledger",
}

// publicMethods skip authentication.
var publicMethods = map[string]bool{
	fullMethod("Ping"): true,
}

// adminMethods additionally require common.RoleAdmin.
var adminMethods = map[string]bool{
	fullMethod("ApproveDeposit"):    true,
	fullMethod("RejectDeposit"):     true,
	fullMethod("ListStaleDeposits"): true,
	fullMethod("Reconcile"):         true,
}
