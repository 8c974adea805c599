package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "creditwallet.v1.WalletAdmin"

const (
	MethodGetBalance       = "GetBalance"
	MethodAddCredits       = "AddCredits"
	MethodDeductCredits    = "DeductCredits"
	MethodListTransactions = "ListTransactions"
)

// WalletAdmin is the admin surface. Every request and response is a google.protobuf.Struct.
type WalletAdmin interface {
	GetBalance(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	AddCredits(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	DeductCredits(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	ListTransactions(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

type structMethod func(admin WalletAdmin, ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)

var walletAdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WalletAdmin)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodGetBalance, WalletAdmin.GetBalance),
		unaryMethod(MethodAddCredits, WalletAdmin.AddCredits),
		unaryMethod(MethodDeductCredits, WalletAdmin.DeductCredits),
		unaryMethod(MethodListTransactions, WalletAdmin.ListTransactions),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "creditwallet/v1/wallet_admin.proto",
}

// RegisterWalletAdminServer attaches admin to registrar.
func RegisterWalletAdminServer(registrar grpc.ServiceRegistrar, admin WalletAdmin) {
	registrar.RegisterService(&walletAdminServiceDesc, admin)
}

func unaryMethod(name string, call structMethod) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			request := &structpb.Struct{}
			if err := decode(request); err != nil {
				return nil, err
			}
			admin := server.(WalletAdmin)
			if interceptor == nil {
				return call(admin, ctx, request)
			}
			info := &grpc.UnaryServerInfo{Server: server, FullMethod: fullMethod}
			return interceptor(ctx, request, info, func(ctx context.Context, request any) (any, error) {
				return call(admin, ctx, request.(*structpb.Struct))
			})
		},
	}
}
