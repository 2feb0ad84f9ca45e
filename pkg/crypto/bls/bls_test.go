package bls

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_IdempotentAcrossCalls(t *testing.T) {
	require.NoError(t, Initialize())
	require.NoError(t, Initialize())
}

func TestGenerateKeyPair_ProducesCorrectlySizedKeys(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NotNil(t, sk)
	require.NotNil(t, pk)

	assert.True(t, IsValidPrivateKeySize(sk.Bytes()))
	assert.True(t, IsValidPublicKeySize(pk.Bytes()))
	assert.True(t, pk.IsValidPublicKey())
}

func TestGenerateKeyPair_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		_, pk, err := GenerateKeyPair()
		require.NoError(t, err)
		hex := pk.Hex()
		assert.False(t, seen[hex], "duplicate public key generated")
		seen[hex] = true
	}
}

func TestGenerateKeyPairFromSeed_Deterministic(t *testing.T) {
	seed := []byte("validator seed used to derive a BLS key deterministically")

	sk1, pk1, err := GenerateKeyPairFromSeed(seed)
	require.NoError(t, err)
	sk2, pk2, err := GenerateKeyPairFromSeed(seed)
	require.NoError(t, err)

	assert.Equal(t, sk1.Bytes(), sk2.Bytes())
	assert.True(t, pk1.Equal(pk2))

	_, pk3, err := GenerateKeyPairFromSeed([]byte("a different seed entirely, also long enough"))
	require.NoError(t, err)
	assert.False(t, pk1.Equal(pk3))
}

func TestGenerateKeyPairFromSeed_RejectsShortSeed(t *testing.T) {
	_, _, err := GenerateKeyPairFromSeed([]byte("too short"))
	assert.Error(t, err)
}

// TestSign_DagBlockDigest exercises signing the way pkg/proposer signs
// a DagBlock's SigningDigest before gossip.
func TestSign_DagBlockDigest(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	require.NoError(t, err)

	digest := ComputeMessageHash(DomainDagBlock, []byte("level=7"), []byte("pivot=0xabc"))
	sig := sk.SignWithDomain(digest[:], DomainDagBlock)

	assert.True(t, IsValidSignatureSize(sig.Bytes()))
	assert.True(t, pk.VerifyWithDomain(sig, digest[:], DomainDagBlock))
	assert.False(t, pk.VerifyWithDomain(sig, digest[:], DomainVote), "a dag block signature must not verify under the vote domain")
}

// TestSign_VoteDigest exercises signing the way pkg/pbft signs a Vote's
// SigningDigest (which pkg/vote's BLS scheme verifies).
func TestSign_VoteDigest(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	require.NoError(t, err)

	digest := ComputeMessageHash(DomainVote, []byte("period=1"), []byte("round=1"), []byte("step=soft"))
	sig := sk.SignWithDomain(digest[:], DomainVote)

	assert.True(t, pk.VerifyWithDomain(sig, digest[:], DomainVote))

	tampered := append([]byte{}, digest[:]...)
	tampered[0] ^= 0xFF
	assert.False(t, pk.VerifyWithDomain(sig, tampered, DomainVote))
}

func TestVerify_RejectsWrongPublicKey(t *testing.T) {
	sk1, _, err := GenerateKeyPair()
	require.NoError(t, err)
	_, pk2, err := GenerateKeyPair()
	require.NoError(t, err)

	message := []byte("proposal digest")
	sig := sk1.Sign(message)
	assert.False(t, pk2.Verify(sig, message))
}

func TestVerify_RejectsTamperedSignature(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	require.NoError(t, err)

	message := []byte("proposal digest")
	sig := sk.Sign(message)
	sigBytes := sig.Bytes()
	sigBytes[0] ^= 0xFF

	tampered, err := SignatureFromBytes(sigBytes)
	if err != nil {
		// A flipped bit may not even decode to a curve point - also acceptable.
		return
	}
	assert.False(t, pk.Verify(tampered, message))
}

func TestSerializationRoundtrip(t *testing.T) {
	sk1, _, err := GenerateKeyPair()
	require.NoError(t, err)

	sk2, err := PrivateKeyFromBytes(sk1.Bytes())
	require.NoError(t, err)
	assert.Equal(t, sk1.Bytes(), sk2.Bytes())

	pk1 := sk1.PublicKey()
	pk2, err := PublicKeyFromBytes(pk1.Bytes())
	require.NoError(t, err)
	assert.True(t, pk1.Equal(pk2))

	message := []byte("round trip message")
	sig1 := sk1.Sign(message)
	sig2, err := SignatureFromBytes(sig1.Bytes())
	require.NoError(t, err)
	assert.Equal(t, sig1.Bytes(), sig2.Bytes())
	assert.True(t, pk1.Verify(sig2, message))
}

func TestHexSerializationRoundtrip(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	require.NoError(t, err)

	sk2, err := PrivateKeyFromHex(sk.Hex())
	require.NoError(t, err)
	assert.Equal(t, sk.Bytes(), sk2.Bytes())

	pk2, err := PublicKeyFromHex(pk.Hex())
	require.NoError(t, err)
	assert.True(t, pk.Equal(pk2))

	sig := sk.Sign([]byte("message"))
	sig2, err := SignatureFromHex(sig.Hex())
	require.NoError(t, err)
	assert.Equal(t, sig.Bytes(), sig2.Bytes())
}

// TestAggregateSignatures_CommitteeQuorum exercises the aggregation path
// the way a PBFT committee would combine cert-votes on the same anchor.
func TestAggregateSignatures_CommitteeQuorum(t *testing.T) {
	const committeeSize = 7
	privs := make([]*PrivateKey, committeeSize)
	pubs := make([]*PublicKey, committeeSize)
	sigs := make([]*Signature, committeeSize)

	anchor := ComputeMessageHash(DomainPbft, []byte("period=42"), []byte("anchor=0xdeadbeef"))
	for i := range privs {
		sk, pk, err := GenerateKeyPair()
		require.NoError(t, err)
		privs[i], pubs[i] = sk, pk
		sigs[i] = sk.SignWithDomain(anchor[:], DomainPbft)
	}

	aggSig, err := AggregateSignatures(sigs)
	require.NoError(t, err)
	assert.True(t, IsValidSignatureSize(aggSig.Bytes()))
	assert.True(t, VerifyAggregateSignatureWithDomain(aggSig, pubs, anchor[:], DomainPbft))

	wrongAnchor := ComputeMessageHash(DomainPbft, []byte("period=42"), []byte("anchor=0xfeedface"))
	assert.False(t, VerifyAggregateSignatureWithDomain(aggSig, pubs, wrongAnchor[:], DomainPbft))
}

func TestAggregateSignatures_RejectsMixedMessages(t *testing.T) {
	const n = 3
	pubs := make([]*PublicKey, n)
	sigs := make([]*Signature, n)
	for i := range pubs {
		sk, pk, err := GenerateKeyPair()
		require.NoError(t, err)
		pubs[i] = pk
		sigs[i] = sk.Sign([]byte{byte('A' + i)})
	}

	aggSig, err := AggregateSignatures(sigs)
	require.NoError(t, err)
	assert.False(t, VerifyAggregateSignature(aggSig, pubs, []byte{'A'}))
}

func TestAggregateSignatures_RejectsEmptyInput(t *testing.T) {
	_, err := AggregateSignatures(nil)
	assert.Error(t, err)
	_, err = AggregatePublicKeys(nil)
	assert.Error(t, err)
}

func TestAggregateSignatures_SingleSigner(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	require.NoError(t, err)

	message := []byte("lone voter")
	sig := sk.Sign(message)
	aggSig, err := AggregateSignatures([]*Signature{sig})
	require.NoError(t, err)
	assert.True(t, VerifyAggregateSignature(aggSig, []*PublicKey{pk}, message))
}

func TestAggregatePublicKeys_ProducesValidKey(t *testing.T) {
	const n = 4
	pubs := make([]*PublicKey, n)
	for i := range pubs {
		_, pk, err := GenerateKeyPair()
		require.NoError(t, err)
		pubs[i] = pk
	}

	aggPk, err := AggregatePublicKeys(pubs)
	require.NoError(t, err)
	assert.True(t, IsValidPublicKeySize(aggPk.Bytes()))
}

func TestComputeMessageHash_DomainSeparated(t *testing.T) {
	data := []byte("ordered-dag-block-hashes")

	h1 := ComputeMessageHash(DomainVote, data)
	h2 := ComputeMessageHash(DomainVote, data)
	assert.Equal(t, h1, h2)

	h3 := ComputeMessageHash(DomainPbft, data)
	assert.NotEqual(t, h1, h3)

	h4 := ComputeMessageHash(DomainVote, []byte("different-data"))
	assert.NotEqual(t, h1, h4)
}

func TestDerivedPublicKeyConsistency(t *testing.T) {
	sk, pk1, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.True(t, pk1.Equal(sk.PublicKey()))
}

func TestSubgroupValidation_AcceptsGeneratedKeysAndSignatures(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.NoError(t, ValidateBLSPublicKeySubgroup(pk.Bytes()))

	sig := sk.Sign([]byte("subgroup check"))
	assert.NoError(t, ValidateBLSSignatureSubgroup(sig.Bytes()))
}

func TestSubgroupValidation_RejectsWrongSizedInput(t *testing.T) {
	short := make([]byte, 32)
	_, _ = rand.Read(short)
	assert.Error(t, ValidateBLSPublicKeySubgroup(short))

	long := make([]byte, 128)
	_, _ = rand.Read(long)
	assert.Error(t, ValidateBLSPublicKeySubgroup(long))

	assert.Error(t, ValidateBLSSignatureSubgroup(make([]byte, 16)))
}

func TestValidateAllPublicKeys_ReportsFirstBadIndex(t *testing.T) {
	_, pk, err := GenerateKeyPair()
	require.NoError(t, err)

	good := pk.Bytes()
	bad := make([]byte, PublicKeySize)

	assert.NoError(t, ValidateAllPublicKeys([][]byte{good, good}))
	err = ValidateAllPublicKeys([][]byte{good, bad, good})
	assert.ErrorContains(t, err, "index 1")
}

func BenchmarkSign(b *testing.B) {
	sk, _, err := GenerateKeyPair()
	require.NoError(b, err)
	message := []byte("benchmark message for signing")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sk.Sign(message)
	}
}

func BenchmarkVerify(b *testing.B) {
	sk, pk, err := GenerateKeyPair()
	require.NoError(b, err)
	message := []byte("benchmark message for verification")
	sig := sk.Sign(message)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pk.Verify(sig, message)
	}
}

func BenchmarkAggregateSignatures(b *testing.B) {
	const n = 100
	sigs := make([]*Signature, n)
	message := []byte("benchmark message for aggregation")
	for i := range sigs {
		sk, _, err := GenerateKeyPair()
		require.NoError(b, err)
		sigs[i] = sk.Sign(message)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		AggregateSignatures(sigs)
	}
}
