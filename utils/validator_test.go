package utils

import "testing"

type createTaskReq struct {
	Payer     string `validate:"required,addrok"`
	Denom     string `validate:"required,denomok"`
	Reference string `validate:"refok"`
}

func TestValidateStruct(t *testing.T) {
	ok := createTaskReq{Payer: "payer1addr", Denom: "uusdc", Reference: "s3://bucket/key"}
	if err := ValidateStruct(&ok); err != nil {
		t.Fatalf("valid struct rejected: %v", err)
	}

	cases := []struct {
		name string
		req  createTaskReq
	}{
		{"missing payer", createTaskReq{Denom: "uusdc"}},
		{"uppercase address", createTaskReq{Payer: "Payer1Addr", Denom: "uusdc"}},
		{"short address", createTaskReq{Payer: "ab", Denom: "uusdc"}},
		{"bad denom", createTaskReq{Payer: "payer1addr", Denom: "USDC"}},
		{"denom starts with digit", createTaskReq{Payer: "payer1addr", Denom: "9usdc"}},
		{"reference with spaces", createTaskReq{Payer: "payer1addr", Denom: "uusdc", Reference: "not a ref"}},
	}
	for _, tc := range cases {
		if err := ValidateStruct(&tc.req); err == nil {
			t.Fatalf("%s: invalid struct accepted", tc.name)
		}
	}
}

func TestValidateStructRejectsNonStructs(t *testing.T) {
	if err := ValidateStruct("not a struct"); err == nil {
		t.Fatalf("non-struct accepted")
	}
}
