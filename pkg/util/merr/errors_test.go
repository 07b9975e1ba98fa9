// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merr

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type ErrSuite struct {
	suite.Suite
}

func (s *ErrSuite) TestCode() {
	err := WrapErrSessionNotFound("sess_1")
	s.ErrorIs(err, ErrSessionNotFound)
	s.Equal(Code(ErrSessionNotFound), Code(err))
	s.Equal(TimeoutCode, Code(context.DeadlineExceeded))
	s.Equal(CanceledCode, Code(context.Canceled))
	s.Equal(errUnexpected.errCode, Code(errUnexpected))
	s.Equal(errUnexpected.errCode, Code(errors.New("plain")))
	s.Equal(int32(0), Code(nil))

	sameCodeErr := newConnHubError("new error", ErrSessionNotFound.errCode, false)
	s.True(sameCodeErr.Is(ErrSessionNotFound))
}

func (s *ErrSuite) TestWrap() {
	// Service 相关错误。
	s.ErrorIs(WrapErrServiceNotReady("scheduler", "stopped"), ErrServiceNotReady)
	s.ErrorIs(WrapErrServiceInternal("never throw out"), ErrServiceInternal)

	// Session / Tab 相关错误。
	s.ErrorIs(WrapErrSessionNotFound("sess_1", "failed to join room"), ErrSessionNotFound)
	s.ErrorIs(WrapErrTabNotFound("tab_1"), ErrTabNotFound)
	s.ErrorIs(WrapErrTabAlreadyExists("tab_1", "sess_1"), ErrTabAlreadyExists)
	s.ErrorIs(WrapErrTabNotMember("sess_1", "tab_2", "failed to set leader"), ErrTabNotMember)
	s.ErrorIs(WrapErrTabLimitExceeded("sess_1", 10), ErrTabLimitExceeded)
	s.ErrorIs(WrapErrLeaderUnavailable("sess_1"), ErrLeaderUnavailable)

	// Room 相关错误。
	s.ErrorIs(WrapErrRoomNotFound("tournament:1"), ErrRoomNotFound)
	s.ErrorIs(WrapErrRoomLimitExceeded("sess_1", 50), ErrRoomLimitExceeded)

	// Observer / 参数相关错误。
	s.ErrorIs(WrapErrObserverFailed("gateway", errors.New("socket closed")), ErrObserverFailed)
	s.ErrorIs(WrapErrParameterInvalid("tournament|field|match", "stage"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterInvalidMsg("room id %q is empty", ""), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterMissing("roomId"), ErrParameterMissing)
	s.ErrorIs(WrapErrOperationNotSupported("unknown_message"), ErrOperationNotSupported)
}

func (s *ErrSuite) TestWrapMessage() {
	err := WrapErrTabLimitExceeded("sess_1", 2)
	s.Equal("exceeded the limit number of tabs per session[session=sess_1][limit=2]", err.Error())
	s.Equal(err.Error(), Message(err))
	s.Equal("unexpected error", Message(errors.New("boom")))
	s.Equal("", Message(nil))
}

func (s *ErrSuite) TestRetryable() {
	s.True(IsRetryableErr(ErrServiceNotReady))
	s.True(IsRetryableErr(WrapErrLeaderUnavailable("sess_1")))
	s.False(IsRetryableErr(WrapErrSessionNotFound("sess_1")))
	s.False(IsRetryableErr(errors.New("plain")))
	s.True(IsCanceledOrTimeout(errors.Wrap(context.Canceled, "sweep")))
}

func (s *ErrSuite) TestInputErrorType() {
	err := WrapErrAsInputError(ErrRoomLimitExceeded)
	s.Equal(InputError, GetErrorType(err))
	s.Equal(SystemError, GetErrorType(ErrServiceInternal))

	err = WrapErrAsInputErrorWhen(ErrTabNotMember, ErrTabNotMember)
	s.Equal(InputError, GetErrorType(err))
	s.Equal("input_error", GetErrorType(err).String())
}

func (s *ErrSuite) TestCombine() {
	var (
		errFirst  = errors.New("first")
		errSecond = errors.New("second")
		errThird  = errors.New("third")
	)

	err := Combine(errFirst, errSecond)
	s.True(errors.Is(err, errFirst))
	s.True(errors.Is(err, errSecond))
	s.False(errors.Is(err, errThird))

	s.Equal("first: second", err.Error())
}

func (s *ErrSuite) TestCombineWithNil() {
	err := errors.New("non-nil")

	err = Combine(nil, err)
	s.NotNil(err)
}

func (s *ErrSuite) TestCombineOnlyNil() {
	err := Combine(nil, nil)
	s.Nil(err)
}

func (s *ErrSuite) TestCombineCode() {
	err := Combine(WrapErrRoomNotFound("field:3"), WrapErrSessionNotFound("sess_1"))
	s.Equal(Code(ErrSessionNotFound), Code(err))
}

func TestErrors(t *testing.T) {
	suite.Run(t, new(ErrSuite))
}
