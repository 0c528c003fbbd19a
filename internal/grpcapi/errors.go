package grpcapi

import (
	"google.golang.org/grpc/codes"

	"tisp.org/internal/trust"
)

func codeFor(kind trust.Kind) codes.Code {
	switch kind {
	case trust.KindInsufficientPermission, trust.KindNotPartOfRelationship:
		return codes.PermissionDenied
	case trust.KindRelationshipNotFound, trust.KindGroupNotFound, trust.KindNotAMember:
		return codes.NotFound
	case trust.KindSameOrganization, trust.KindInvalidTrustLevel, trust.KindEmptyGroupName, trust.KindInvalidInput:
		return codes.InvalidArgument
	case trust.KindInvalidState:
		return codes.FailedPrecondition
	case trust.KindDuplicateActiveRelationship, trust.KindAlreadyApproved,
		trust.KindGroupNameTaken, trust.KindAlreadyMember:
		return codes.AlreadyExists
	default:
		return codes.Internal
	}
}
