package server

import (
	"context"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/123bigmirros/electronic-grave/utils"
)

const KeyRotationServiceName = "keyrotation.KeyRotationNotifyService"

type KeyRotationNotifyServiceServer interface {
	NotifyKeyRolled(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// KeyRotationNotifyServer receives new signing keys from the auth server.
type KeyRotationNotifyServer struct {
	store  *utils.PublicKeyStore
	logger zerolog.Logger
}

func NewKeyRotationNotifyServer(store *utils.PublicKeyStore, logger zerolog.Logger) *KeyRotationNotifyServer {
	return &KeyRotationNotifyServer{store: store, logger: logger}
}

// NotifyKeyRolled stores the current key. The previous key stays valid so
// tokens issued before the roll keep verifying until they expire.
func (s *KeyRotationNotifyServer) NotifyKeyRolled(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	currentKid := fields["currentKid"].GetStringValue()
	pem := fields["currentPublicKeyPem"].GetStringValue()

	s.logger.Info().
		Str("previous_kid", fields["previousKid"].GetStringValue()).
		Str("current_kid", currentKid).
		Str("rolled_at", fields["rolledAt"].GetStringValue()).
		Msg("received key rotation notification")

	if currentKid == "" {
		return nil, status.Error(codes.InvalidArgument, "no current kid provided")
	}
	if pem == "" {
		return nil, status.Error(codes.InvalidArgument, "no public key pem provided")
	}
	if err := s.store.AddOrUpdateKey(currentKid, pem); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "failed to add/update key in store: %v", err)
	}

	return structpb.NewStruct(map[string]interface{}{
		"message": "Public key updated successfully.",
	})
}

var keyRotationServiceDesc = grpc.ServiceDesc{
	ServiceName: KeyRotationServiceName,
	HandlerType: (*KeyRotationNotifyServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "NotifyKeyRolled",
			Handler: unaryStructHandler("/"+KeyRotationServiceName+"/NotifyKeyRolled",
				func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
					return srv.(KeyRotationNotifyServiceServer).NotifyKeyRolled(ctx, req)
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "keyrotation.proto",
}

func RegisterKeyRotationNotifyServer(s grpc.ServiceRegistrar, srv KeyRotationNotifyServiceServer) {
	s.RegisterService(&keyRotationServiceDesc, srv)
}
