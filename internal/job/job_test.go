// Copyright 2025 James Ross
package job

import (
	"testing"

	"github.com/archivault/workers/internal/apperrors"
	"github.com/stretchr/testify/require"
)

const (
	tenantID = "11111111-1111-4111-8111-111111111111"
	assetID  = "22222222-2222-4222-8222-222222222222"
	batchID  = "33333333-3333-4333-8333-333333333333"
)

func validMachinistJob() Job {
	return Job{
		JobType:        "machinist",
		ProcessingType: "instant",
		TenantID:       tenantID,
		AssetID:        assetID,
		BatchID:        batchID,
		FilePurpose:    "viewing",
		InputExtension: "jpg",
	}
}

func TestValidateMachinistAccepted(t *testing.T) {
	require.NoError(t, Validate(validMachinistJob()))
}

func TestValidateMachinistRejectsUnknownExtension(t *testing.T) {
	j := validMachinistJob()
	j.InputExtension = "heic"
	err := Validate(j)
	require.Error(t, err)
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestValidateMachinistRejectsBadTenant(t *testing.T) {
	j := validMachinistJob()
	j.TenantID = "not-a-uuid"
	require.Error(t, Validate(j))
}

func TestValidateMachinistRejectsUnknownFilePurpose(t *testing.T) {
	j := validMachinistJob()
	j.FilePurpose = "scanning"
	require.Error(t, Validate(j))
}

func TestValidateArchivistNormalizesBatchSynonym(t *testing.T) {
	j := Job{JobType: "archivist", ProcessingType: "batch", TenantID: tenantID, AssetID: assetID}
	require.NoError(t, Validate(j))
	require.Equal(t, Jobgroup, j.DerivePriority())
}

func TestSanitizeExtensionStripsDotAndFolds(t *testing.T) {
	ext, err := SanitizeExtension(".JPG")
	require.NoError(t, err)
	require.Equal(t, "jpg", ext)
}

func TestSanitizeExtensionRejectsTraversal(t *testing.T) {
	_, err := SanitizeExtension("../etc")
	require.Error(t, err)
}

func TestDeriveWorkerDefaultsToMachinist(t *testing.T) {
	j := Job{ProcessingType: "instant"}
	w, err := j.DeriveWorker()
	require.NoError(t, err)
	require.Equal(t, Machinist, w)
}

func TestDeriveWorkerUnknownPrefix(t *testing.T) {
	j := Job{JobType: "mystery"}
	_, err := j.DeriveWorker()
	require.Error(t, err)
}

func TestValidateShapeRejectsMissingDiscriminator(t *testing.T) {
	err := ValidateShape([]byte(`{"tenant_id":"` + tenantID + `","asset_id":"` + assetID + `"}`))
	require.Error(t, err)
}

func TestValidateShapeAcceptsWellFormedPayload(t *testing.T) {
	err := ValidateShape([]byte(`{"tenant_id":"` + tenantID + `","asset_id":"` + assetID + `","job_type":"machinist"}`))
	require.NoError(t, err)
}
