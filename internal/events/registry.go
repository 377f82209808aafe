package events

import (
	"fmt"
	"sort"
)

type Type string

const (
	// AnyType matches every event when binding rules.
	AnyType Type = "*"

	TypeCreateSubmission          Type = "CreateSubmission"
	TypeCreateSubmissionVersion   Type = "CreateSubmissionVersion"
	TypeRollback                  Type = "Rollback"
	TypeFinalizeSubmission        Type = "FinalizeSubmission"
	TypeUnFinalizeSubmission      Type = "UnFinalizeSubmission"
	TypeAnnounce                  Type = "Announce"
	TypeConfirmContactInformation Type = "ConfirmContactInformation"
	TypeConfirmAuthorship         Type = "ConfirmAuthorship"
	TypeConfirmPolicy             Type = "ConfirmPolicy"
	TypeConfirmPreview            Type = "ConfirmPreview"
	TypeConfirmSourceProcessed    Type = "ConfirmSourceProcessed"
	TypeUnConfirmSourceProcessed  Type = "UnConfirmSourceProcessed"
	TypeConfirmCompiledPreview    Type = "ConfirmCompiledPreview"

	TypeSetTitle             Type = "SetTitle"
	TypeSetAbstract          Type = "SetAbstract"
	TypeSetDOI               Type = "SetDOI"
	TypeSetMSCClassification Type = "SetMSCClassification"
	TypeSetACMClassification Type = "SetACMClassification"
	TypeSetJournalReference  Type = "SetJournalReference"
	TypeSetReportNumber      Type = "SetReportNumber"
	TypeSetComments          Type = "SetComments"
	TypeSetAuthors           Type = "SetAuthors"
	TypeSetLicense           Type = "SetLicense"
	TypeSetUploadPackage     Type = "SetUploadPackage"
	TypeUpdateUploadPackage  Type = "UpdateUploadPackage"
	TypeUnsetUploadPackage   Type = "UnsetUploadPackage"

	TypeSetPrimaryClassification      Type = "SetPrimaryClassification"
	TypeAddSecondaryClassification    Type = "AddSecondaryClassification"
	TypeRemoveSecondaryClassification Type = "RemoveSecondaryClassification"
	TypeReclassify                    Type = "Reclassify"

	TypeRequestWithdrawal Type = "RequestWithdrawal"
	TypeRequestCrossList  Type = "RequestCrossList"
	TypeCancelRequest     Type = "CancelRequest"
	TypeApproveRequest    Type = "ApproveRequest"
	TypeRejectRequest     Type = "RejectRequest"
	TypeApplyRequest      Type = "ApplyRequest"

	TypeAddHold              Type = "AddHold"
	TypeRemoveHold           Type = "RemoveHold"
	TypeAddWaiver            Type = "AddWaiver"
	TypeAddContentFlag       Type = "AddContentFlag"
	TypeAddMetadataFlag      Type = "AddMetadataFlag"
	TypeAddUserFlag          Type = "AddUserFlag"
	TypeRemoveFlag           Type = "RemoveFlag"
	TypeAddProposal          Type = "AddProposal"
	TypeAcceptProposal       Type = "AcceptProposal"
	TypeRejectProposal       Type = "RejectProposal"
	TypeAddProcessStatus     Type = "AddProcessStatus"
	TypeAddFeature           Type = "AddFeature"
	TypeAddClassifierResults Type = "AddClassifierResults"
)

// Families group related event types so a rule can bind to all of them.
const (
	FamilyLifecycle      Type = "Lifecycle"
	FamilyConfirm        Type = "Confirm"
	FamilyMetadata       Type = "SetMetadata"
	FamilyContent        Type = "UploadPackage"
	FamilyClassification Type = "Classification"
	FamilyRequest        Type = "Request"
	FamilyFlag           Type = "AddFlag"
	FamilyHold           Type = "Hold"
	FamilyProposal       Type = "Proposal"
	FamilyAnnotation     Type = "Annotation"
)

type entry struct {
	family Type
	new    func() Payload
}

// catalog is the static registration table. TestCatalogComplete checks that
// every Type constant has an entry and that each factory reports its own
// type.
var catalog = map[Type]entry{
	TypeCreateSubmission:          {FamilyLifecycle, func() Payload { return &CreateSubmission{} }},
	TypeCreateSubmissionVersion:   {FamilyLifecycle, func() Payload { return &CreateSubmissionVersion{} }},
	TypeRollback:                  {FamilyLifecycle, func() Payload { return &Rollback{} }},
	TypeFinalizeSubmission:        {FamilyLifecycle, func() Payload { return &FinalizeSubmission{} }},
	TypeUnFinalizeSubmission:      {FamilyLifecycle, func() Payload { return &UnFinalizeSubmission{} }},
	TypeAnnounce:                  {FamilyLifecycle, func() Payload { return &Announce{} }},
	TypeConfirmContactInformation: {FamilyConfirm, func() Payload { return &ConfirmContactInformation{} }},
	TypeConfirmAuthorship:         {FamilyConfirm, func() Payload { return &ConfirmAuthorship{} }},
	TypeConfirmPolicy:             {FamilyConfirm, func() Payload { return &ConfirmPolicy{} }},
	TypeConfirmPreview:            {FamilyConfirm, func() Payload { return &ConfirmPreview{} }},
	TypeConfirmSourceProcessed:    {FamilyConfirm, func() Payload { return &ConfirmSourceProcessed{} }},
	TypeUnConfirmSourceProcessed:  {FamilyConfirm, func() Payload { return &UnConfirmSourceProcessed{} }},
	TypeConfirmCompiledPreview:    {FamilyConfirm, func() Payload { return &ConfirmCompiledPreview{} }},

	TypeSetTitle:             {FamilyMetadata, func() Payload { return &SetTitle{} }},
	TypeSetAbstract:          {FamilyMetadata, func() Payload { return &SetAbstract{} }},
	TypeSetDOI:               {FamilyMetadata, func() Payload { return &SetDOI{} }},
	TypeSetMSCClassification: {FamilyMetadata, func() Payload { return &SetMSCClassification{} }},
	TypeSetACMClassification: {FamilyMetadata, func() Payload { return &SetACMClassification{} }},
	TypeSetJournalReference:  {FamilyMetadata, func() Payload { return &SetJournalReference{} }},
	TypeSetReportNumber:      {FamilyMetadata, func() Payload { return &SetReportNumber{} }},
	TypeSetComments:          {FamilyMetadata, func() Payload { return &SetComments{} }},
	TypeSetAuthors:           {FamilyMetadata, func() Payload { return &SetAuthors{} }},
	TypeSetLicense:           {FamilyMetadata, func() Payload { return &SetLicense{} }},
	TypeSetUploadPackage:     {FamilyContent, func() Payload { return &SetUploadPackage{} }},
	TypeUpdateUploadPackage:  {FamilyContent, func() Payload { return &UpdateUploadPackage{} }},
	TypeUnsetUploadPackage:   {FamilyContent, func() Payload { return &UnsetUploadPackage{} }},

	TypeSetPrimaryClassification:      {FamilyClassification, func() Payload { return &SetPrimaryClassification{} }},
	TypeAddSecondaryClassification:    {FamilyClassification, func() Payload { return &AddSecondaryClassification{} }},
	TypeRemoveSecondaryClassification: {FamilyClassification, func() Payload { return &RemoveSecondaryClassification{} }},
	TypeReclassify:                    {FamilyClassification, func() Payload { return &Reclassify{} }},

	TypeRequestWithdrawal: {FamilyRequest, func() Payload { return &RequestWithdrawal{} }},
	TypeRequestCrossList:  {FamilyRequest, func() Payload { return &RequestCrossList{} }},
	TypeCancelRequest:     {FamilyRequest, func() Payload { return &CancelRequest{} }},
	TypeApproveRequest:    {FamilyRequest, func() Payload { return &ApproveRequest{} }},
	TypeRejectRequest:     {FamilyRequest, func() Payload { return &RejectRequest{} }},
	TypeApplyRequest:      {FamilyRequest, func() Payload { return &ApplyRequest{} }},

	TypeAddHold:              {FamilyHold, func() Payload { return &AddHold{} }},
	TypeRemoveHold:           {FamilyHold, func() Payload { return &RemoveHold{} }},
	TypeAddWaiver:            {FamilyHold, func() Payload { return &AddWaiver{} }},
	TypeAddContentFlag:       {FamilyFlag, func() Payload { return &AddContentFlag{} }},
	TypeAddMetadataFlag:      {FamilyFlag, func() Payload { return &AddMetadataFlag{} }},
	TypeAddUserFlag:          {FamilyFlag, func() Payload { return &AddUserFlag{} }},
	TypeRemoveFlag:           {FamilyFlag, func() Payload { return &RemoveFlag{} }},
	TypeAddProposal:          {FamilyProposal, func() Payload { return &AddProposal{} }},
	TypeAcceptProposal:       {FamilyProposal, func() Payload { return &AcceptProposal{} }},
	TypeRejectProposal:       {FamilyProposal, func() Payload { return &RejectProposal{} }},
	TypeAddProcessStatus:     {FamilyAnnotation, func() Payload { return &AddProcessStatus{} }},
	TypeAddFeature:           {FamilyAnnotation, func() Payload { return &AddFeature{} }},
	TypeAddClassifierResults: {FamilyAnnotation, func() Payload { return &AddClassifierResults{} }},
}

// NewPayload returns an empty payload for t.
func NewPayload(t Type) (Payload, error) {
	e, ok := catalog[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return e.new(), nil
}

// Family returns the group t belongs to, or "" for unknown types.
func (t Type) Family() Type {
	return catalog[t].family
}

func (t Type) Known() bool {
	_, ok := catalog[t]
	return ok
}

// Types lists the catalog sorted by name.
func Types() []Type {
	out := make([]Type, 0, len(catalog))
	for t := range catalog {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsFamily reports whether t names a family rather than a concrete type.
func IsFamily(t Type) bool {
	switch t {
	case FamilyLifecycle, FamilyConfirm, FamilyMetadata, FamilyContent, FamilyClassification,
		FamilyRequest, FamilyFlag, FamilyHold, FamilyProposal, FamilyAnnotation:
		return true
	}
	return false
}
